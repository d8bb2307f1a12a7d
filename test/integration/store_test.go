//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/caire/internal/config"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/model"
	"github.com/agenthands/caire/internal/store"
)

const feverDoc = `{
  "id": "%s", "name": "Fever", "version": "%s", "domain": "triage",
  "root_node_id": "root",
  "nodes": {
    "root": {"type": "condition", "label": "Fever above 38?",
             "condition": {"variable": "temp", "operator": ">", "threshold": 38},
             "children": ["er", "home"]},
    "er":   {"type": "action", "label": "ER", "action": {"recommendation": "go to ER"}},
    "home": {"type": "action", "label": "Home", "action": {"recommendation": "home care"}}
  },
  "variables": [{"name": "temp", "type": "numeric"}]
}`

func feverTree(t *testing.T, id, version string) *model.Tree {
	t.Helper()
	tree, _, err := document.Decode([]byte(fmt.Sprintf(feverDoc, id, version)))
	require.NoError(t, err)
	return tree
}

func memgraphConfig(t *testing.T) *config.Config {
	t.Helper()
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("MEMGRAPH_URI")
	if uri == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}
	cfg := config.Default()
	cfg.Store.Backend = "memgraph"
	cfg.Memgraph.URI = uri
	cfg.Memgraph.User = os.Getenv("MEMGRAPH_USER")
	cfg.Memgraph.Password = os.Getenv("MEMGRAPH_PASSWORD")
	return cfg
}

func TestGraphStore_RoundTrip(t *testing.T) {
	cfg := memgraphConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer st.Close(ctx)

	id := fmt.Sprintf("it-fever-%d", time.Now().UnixNano())
	defer st.DeleteTree(ctx, id)

	require.NoError(t, st.SaveTree(ctx, feverTree(t, id, "1.0.0")))
	require.NoError(t, st.SaveTree(ctx, feverTree(t, id, "1.1.0")))

	latest, err := st.GetTree(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version)
	assert.Equal(t, []string{"er", "home"}, latest.Nodes["root"].Children)

	old, err := st.GetTreeVersion(ctx, id, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", old.Version)

	cases := []model.TestCase{
		{ID: "hot", TreeID: id, InputValues: map[string]model.Value{"temp": model.Number(39)}, ExpectedOutcome: "go to ER"},
		{ID: "cool", TreeID: id, InputValues: map[string]model.Value{"temp": model.Number(37)}, ExpectedOutcome: "home care"},
	}
	require.NoError(t, st.SaveTestCases(ctx, id, cases))

	got, err := st.ListTestCases(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hot", got[0].ID)

	suite := &model.TestSuite{ID: id + "-run", TreeID: id, TreeVersion: "1.1.0", RunAt: time.Now().UTC(), Total: 2, Passed: 2}
	require.NoError(t, st.SaveSuite(ctx, suite))

	last, err := st.LatestSuite(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, suite.ID, last.ID)

	require.NoError(t, st.DeleteTree(ctx, id))
	_, err = st.GetTree(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
