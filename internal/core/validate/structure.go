// Package validate performs read-only static checks on decision trees before
// they are trusted for execution.
package validate

import (
	"fmt"

	"github.com/agenthands/caire/internal/core/model"
)

type visitState uint8

const (
	unvisited visitState = iota
	onPath
	done
)

type frame struct {
	id   string
	next int
}

// Structure checks that the root exists, every child reachable from it
// resolves, and the reachable subgraph is acyclic. Shared children (a DAG
// diamond) are visited once and are not reported. Always terminates.
func Structure(tree *model.Tree) []model.Issue {
	var issues []model.Issue

	if tree == nil || tree.RootNodeID == "" {
		return append(issues, model.Issue{Code: model.CodeMissingRoot, Message: "Root node is not defined"})
	}
	if _, ok := tree.Node(tree.RootNodeID); !ok {
		return append(issues, model.Issue{
			Code:    model.CodeRootNotFound,
			Message: fmt.Sprintf("Root node '%s' is not in nodes", tree.RootNodeID),
			NodeID:  tree.RootNodeID,
		})
	}

	state := make(map[string]visitState, len(tree.Nodes))
	stack := []frame{{id: tree.RootNodeID}}
	state[tree.RootNodeID] = onPath

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		node, _ := tree.Node(top.id)
		if top.next >= len(node.Children) {
			state[top.id] = done
			stack = stack[:len(stack)-1]
			continue
		}
		childID := node.Children[top.next]
		top.next++

		if _, ok := tree.Node(childID); !ok {
			issues = append(issues, model.Issue{
				Code:    model.CodeMissingNode,
				Message: fmt.Sprintf("Child node '%s' of '%s' does not exist", childID, top.id),
				NodeID:  childID,
				Path:    append(pathOf(stack), childID),
			})
			continue
		}

		switch state[childID] {
		case onPath:
			issues = append(issues, model.Issue{
				Code:    model.CodeCycle,
				Message: fmt.Sprintf("Cycle detected at node '%s'", childID),
				NodeID:  childID,
				Path:    append(pathOf(stack), childID),
			})
		case unvisited:
			state[childID] = onPath
			stack = append(stack, frame{id: childID})
		}
	}

	if tree.StrictValidation() {
		issues = append(issues, actionChildren(tree)...)
	}
	return issues
}

func actionChildren(tree *model.Tree) []model.Issue {
	var issues []model.Issue
	for _, id := range tree.NodeIDs() {
		n := tree.Nodes[id]
		if n == nil || n.Type != model.NodeAction || len(n.Children) == 0 {
			continue
		}
		issues = append(issues, model.Issue{
			Code:    model.CodeActionHasChildren,
			Message: fmt.Sprintf("Action node '%s' has children; action nodes are usually leaves", id),
			NodeID:  id,
		})
	}
	return issues
}

func pathOf(stack []frame) []string {
	path := make([]string, len(stack), len(stack)+1)
	for i, f := range stack {
		path[i] = f.id
	}
	return path
}
