// Package store persists trees, test cases and suite snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/model"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// TreeSummary describes the latest saved version of a tree.
type TreeSummary struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Domain  string    `json:"domain"`
	SavedAt time.Time `json:"saved_at"`
}

// Store keeps every saved version of a tree; the most recently saved one is
// the latest. Saving an existing (id, version) replaces it. Test cases are
// upserted by id. Suites are immutable snapshots.
type Store interface {
	SaveTree(ctx context.Context, tree *model.Tree) error
	GetTree(ctx context.Context, id string) (*model.Tree, error)
	GetTreeVersion(ctx context.Context, id, version string) (*model.Tree, error)
	ListTrees(ctx context.Context) ([]TreeSummary, error)
	DeleteTree(ctx context.Context, id string) error

	SaveTestCases(ctx context.Context, treeID string, cases []model.TestCase) error
	ListTestCases(ctx context.Context, treeID string) ([]model.TestCase, error)

	SaveSuite(ctx context.Context, suite *model.TestSuite) error
	GetSuite(ctx context.Context, id string) (*model.TestSuite, error)
	LatestSuite(ctx context.Context, treeID string) (*model.TestSuite, error)

	Close(ctx context.Context) error
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s '%s': %w", kind, id, ErrNotFound)
}

func treeKey(id, version string) string {
	return id + "@" + version
}

func encodeTree(tree *model.Tree) ([]byte, error) {
	if tree == nil || tree.ID == "" {
		return nil, errors.New("tree id is required")
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return data, nil
}

func decodeTree(data []byte) (*model.Tree, error) {
	tree, _, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored tree: %w", err)
	}
	return tree, nil
}

func encodeTestCase(tc model.TestCase) ([]byte, error) {
	data, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode test case: %w", err)
	}
	return data, nil
}

func decodeTestCase(data []byte) (model.TestCase, error) {
	var tc model.TestCase
	if err := json.Unmarshal(data, &tc); err != nil {
		return tc, fmt.Errorf("failed to decode stored test case: %w", err)
	}
	if tc.InputValues == nil {
		tc.InputValues = model.Inputs{}
	}
	if tc.ExpectedPath == nil {
		tc.ExpectedPath = []string{}
	}
	return tc, nil
}

func encodeSuite(suite *model.TestSuite) ([]byte, error) {
	if suite == nil || suite.ID == "" {
		return nil, errors.New("suite id is required")
	}
	data, err := json.Marshal(suite)
	if err != nil {
		return nil, fmt.Errorf("failed to encode suite: %w", err)
	}
	return data, nil
}

func decodeSuite(data []byte) (*model.TestSuite, error) {
	var suite model.TestSuite
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to decode stored suite: %w", err)
	}
	return &suite, nil
}
