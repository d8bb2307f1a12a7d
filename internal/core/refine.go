package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/store"
)

// RefineRequest asks the student model to rewrite one node of the latest
// version of a tree.
type RefineRequest struct {
	NodeID      string `json:"node_id" binding:"required"`
	Instruction string `json:"instruction" binding:"required"`
	// Version names the new version. Empty bumps the last numeric segment.
	Version string `json:"version"`
}

// RefineNode saves the refined tree as a new version and returns it with its
// validation report. The previous version stays stored.
func (c *Caire) RefineNode(ctx context.Context, treeID string, req RefineRequest) (*model.Tree, model.Report, error) {
	if c.Generator == nil {
		return nil, model.Report{}, ErrCompilerUnavailable
	}
	tree, err := c.Store.GetTree(ctx, treeID)
	if err != nil {
		return nil, model.Report{}, err
	}
	node, ok := tree.Node(req.NodeID)
	if !ok {
		return nil, model.Report{}, fmt.Errorf("node '%s' in tree '%s': %w", req.NodeID, treeID, store.ErrNotFound)
	}

	refined, err := c.Generator.RefineNode(ctx, node, req.Instruction)
	if err != nil {
		return nil, model.Report{}, err
	}
	refined.ID = node.ID

	next := *tree
	next.Nodes = make(map[string]*model.Node, len(tree.Nodes))
	for id, n := range tree.Nodes {
		next.Nodes[id] = n
	}
	next.Nodes[node.ID] = refined
	next.Version = req.Version
	if next.Version == "" {
		next.Version = bumpVersion(tree.Version)
	}
	if next.Version == tree.Version {
		return nil, model.Report{}, fmt.Errorf("version '%s': %w", next.Version, ErrVersionExists)
	}

	report, err := c.SaveTree(ctx, &next)
	if err != nil {
		return &next, report, err
	}
	c.Logger.Info("node refined", "tree_id", treeID, "node_id", node.ID, "version", next.Version)
	return &next, report, nil
}

// bumpVersion increments the last dot-separated numeric segment: 1.0.0 gives
// 1.0.1, v2 gives v3. A version with no trailing number gets ".1".
func bumpVersion(v string) string {
	i := strings.LastIndexByte(v, '.') + 1
	seg := v[i:]
	j := len(seg)
	for j > 0 && seg[j-1] >= '0' && seg[j-1] <= '9' {
		j--
	}
	if j == len(seg) {
		if v == "" {
			return "1"
		}
		return v + ".1"
	}
	n, err := strconv.Atoi(seg[j:])
	if err != nil {
		return v + ".1"
	}
	return v[:i] + seg[:j] + strconv.Itoa(n+1)
}
