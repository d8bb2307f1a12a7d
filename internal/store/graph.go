package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/driver"
)

// GraphStore keeps trees in Memgraph. Each version is a Tree node holding the
// document, with its decision nodes and CHILD edges mirrored as a subgraph.
type GraphStore struct {
	Driver driver.GraphDriver
	Logger *slog.Logger
	now    func() time.Time
}

func NewGraphStore(d driver.GraphDriver, logger *slog.Logger) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{Driver: d, Logger: logger, now: time.Now}
}

func (s *GraphStore) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func (s *GraphStore) SaveTree(ctx context.Context, tree *model.Tree) error {
	data, err := encodeTree(tree)
	if err != nil {
		return err
	}
	key := treeKey(tree.ID, tree.Version)

	stmts := []driver.Statement{
		{Query: driver.SaveTreeQuery, Params: map[string]interface{}{
			"key":          key,
			"id":           tree.ID,
			"version":      tree.Version,
			"name":         tree.Name,
			"domain":       tree.Domain,
			"root_node_id": tree.RootNodeID,
			"document":     string(data),
			"saved_at":     s.now().UTC().UnixNano(),
		}},
		{Query: driver.ClearTreeNodesQuery, Params: map[string]interface{}{"key": key}},
	}

	nodes := make([]interface{}, 0, len(tree.Nodes))
	edges := []interface{}{}
	for _, id := range tree.NodeIDs() {
		n := tree.Nodes[id]
		variable := ""
		if n.Condition != nil {
			variable = n.Condition.Variable
		}
		nodes = append(nodes, map[string]interface{}{
			"id":       n.ID,
			"type":     string(n.Type),
			"label":    n.Label,
			"variable": variable,
		})
		for i, child := range n.Children {
			edges = append(edges, map[string]interface{}{"source": n.ID, "target": child, "index": i})
		}
	}
	stmts = append(stmts, driver.Statement{Query: driver.SaveTreeNodesQuery, Params: map[string]interface{}{"key": key, "nodes": nodes}})
	if len(edges) > 0 {
		stmts = append(stmts, driver.Statement{Query: driver.SaveTreeEdgesQuery, Params: map[string]interface{}{"key": key, "edges": edges}})
	}

	// a version and its subgraph land together or not at all
	if err := s.Driver.ExecuteBatch(ctx, stmts); err != nil {
		return fmt.Errorf("failed to save tree: %w", err)
	}
	return nil
}

func (s *GraphStore) GetTree(ctx context.Context, id string) (*model.Tree, error) {
	res, err := s.Driver.ExecuteRead(ctx, driver.GetLatestTreeQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	data, ok := firstDocument(res)
	if !ok {
		return nil, notFound("tree", id)
	}
	return decodeTree(data)
}

func (s *GraphStore) GetTreeVersion(ctx context.Context, id, version string) (*model.Tree, error) {
	key := treeKey(id, version)
	res, err := s.Driver.ExecuteRead(ctx, driver.GetTreeVersionQuery, map[string]interface{}{"key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to get tree version: %w", err)
	}
	data, ok := firstDocument(res)
	if !ok {
		return nil, notFound("tree", key)
	}
	return decodeTree(data)
}

func (s *GraphStore) ListTrees(ctx context.Context) ([]TreeSummary, error) {
	res, err := s.Driver.ExecuteRead(ctx, driver.ListTreesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}
	out := make([]TreeSummary, 0, len(res.Records))
	for _, rec := range res.Records {
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		version, _ := rec.Get("version")
		domain, _ := rec.Get("domain")
		savedAt, _ := rec.Get("saved_at")
		ts := TreeSummary{
			ID:      asString(id),
			Name:    asString(name),
			Version: asString(version),
			Domain:  asString(domain),
		}
		if nanos, ok := savedAt.(int64); ok {
			ts.SavedAt = time.Unix(0, nanos).UTC()
		}
		out = append(out, ts)
	}
	return out, nil
}

func (s *GraphStore) DeleteTree(ctx context.Context, id string) error {
	res, err := s.Driver.ExecuteQuery(ctx, driver.DeleteTreeQuery, map[string]interface{}{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete tree: %w", err)
	}
	if len(res.Records) == 0 {
		return notFound("tree", id)
	}
	if deleted, _ := res.Records[0].Get("deleted"); deleted == int64(0) {
		return notFound("tree", id)
	}
	if _, err := s.Driver.ExecuteQuery(ctx, driver.DeleteTreeRunsQuery, map[string]interface{}{"id": id}); err != nil {
		return fmt.Errorf("failed to delete tree runs: %w", err)
	}
	return nil
}

func (s *GraphStore) SaveTestCases(ctx context.Context, treeID string, cases []model.TestCase) error {
	if len(cases) == 0 {
		return nil
	}
	existing, err := s.ListTestCases(ctx, treeID)
	if err != nil {
		return err
	}
	position := map[string]int{}
	for i, tc := range existing {
		position[tc.ID] = i
	}

	rows := make([]interface{}, 0, len(cases))
	for _, tc := range cases {
		tc.TreeID = treeID
		data, err := encodeTestCase(tc)
		if err != nil {
			return err
		}
		pos, ok := position[tc.ID]
		if !ok {
			pos = len(position)
			position[tc.ID] = pos
		}
		rows = append(rows, map[string]interface{}{
			"id":       tc.ID,
			"tree_id":  treeID,
			"position": pos,
			"document": string(data),
		})
	}
	if _, err := s.Driver.ExecuteQuery(ctx, driver.SaveTestCasesQuery, map[string]interface{}{"cases": rows}); err != nil {
		return fmt.Errorf("failed to save test cases: %w", err)
	}
	return nil
}

func (s *GraphStore) ListTestCases(ctx context.Context, treeID string) ([]model.TestCase, error) {
	res, err := s.Driver.ExecuteRead(ctx, driver.ListTestCasesQuery, map[string]interface{}{"tree_id": treeID})
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	out := make([]model.TestCase, 0, len(res.Records))
	for _, rec := range res.Records {
		doc, _ := rec.Get("document")
		tc, err := decodeTestCase([]byte(asString(doc)))
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

// SaveSuite writes the snapshot and its results in a single query, so the
// database applies it as one transaction.
func (s *GraphStore) SaveSuite(ctx context.Context, suite *model.TestSuite) error {
	data, err := encodeSuite(suite)
	if err != nil {
		return err
	}
	results := make([]interface{}, 0, len(suite.Results))
	for _, r := range suite.Results {
		results = append(results, map[string]interface{}{
			"test_case_id": r.TestCaseID,
			"passed":       r.Passed,
			"error":        r.Error,
		})
	}
	_, err = s.Driver.ExecuteQuery(ctx, driver.SaveSuiteQuery, map[string]interface{}{
		"id":           suite.ID,
		"tree_id":      suite.TreeID,
		"tree_version": suite.TreeVersion,
		"run_at":       suite.RunAt.UTC().UnixNano(),
		"total":        suite.Total,
		"passed":       suite.Passed,
		"failed":       suite.Failed,
		"document":     string(data),
		"results":      results,
	})
	if err != nil {
		return fmt.Errorf("failed to save suite: %w", err)
	}
	return nil
}

func (s *GraphStore) GetSuite(ctx context.Context, id string) (*model.TestSuite, error) {
	res, err := s.Driver.ExecuteRead(ctx, driver.GetSuiteQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}
	data, ok := firstDocument(res)
	if !ok {
		return nil, notFound("suite", id)
	}
	return decodeSuite(data)
}

func (s *GraphStore) LatestSuite(ctx context.Context, treeID string) (*model.TestSuite, error) {
	res, err := s.Driver.ExecuteRead(ctx, driver.LatestSuiteQuery, map[string]interface{}{"tree_id": treeID})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest suite: %w", err)
	}
	data, ok := firstDocument(res)
	if !ok {
		return nil, notFound("suite for tree", treeID)
	}
	return decodeSuite(data)
}

func firstDocument(res neo4j.EagerResult) ([]byte, bool) {
	if len(res.Records) == 0 {
		return nil, false
	}
	doc, ok := res.Records[0].Get("document")
	if !ok || doc == nil {
		return nil, false
	}
	return []byte(asString(doc)), true
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
