package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/caire/internal/driver"
)

type executedQuery struct {
	Query  string
	Params map[string]interface{}
}

// MockDriver records queries and answers them from Results keyed by query.
type MockDriver struct {
	Executed []executedQuery
	Results  map[string]neo4j.EagerResult
	Err      error
	Closed   bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.Executed = append(m.Executed, executedQuery{Query: query, Params: params})
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.Results[query], nil
}

func (m *MockDriver) ExecuteRead(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	return m.ExecuteQuery(ctx, query, params)
}

func (m *MockDriver) ExecuteBatch(ctx context.Context, stmts []driver.Statement) error {
	for _, st := range stmts {
		if _, err := m.ExecuteQuery(ctx, st.Query, st.Params); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	m.Closed = true
	return nil
}

func records(keys []string, rows ...[]interface{}) neo4j.EagerResult {
	res := neo4j.EagerResult{Keys: keys}
	for _, row := range rows {
		res.Records = append(res.Records, &neo4j.Record{Keys: keys, Values: row})
	}
	return res
}

func TestGraphStore_SaveTree(t *testing.T) {
	mock := &MockDriver{}
	s := NewGraphStore(mock, nil)

	require.NoError(t, s.SaveTree(context.Background(), sampleTree("fever", "1.0.0")))
	require.Len(t, mock.Executed, 4)

	save := mock.Executed[0]
	assert.Equal(t, driver.SaveTreeQuery, save.Query)
	assert.Equal(t, "fever@1.0.0", save.Params["key"])
	assert.Equal(t, "root", save.Params["root_node_id"])

	assert.Equal(t, driver.ClearTreeNodesQuery, mock.Executed[1].Query)

	nodes := mock.Executed[2].Params["nodes"].([]interface{})
	require.Len(t, nodes, 3)
	assert.Equal(t, "er", nodes[0].(map[string]interface{})["id"])
	assert.Equal(t, "fever", nodes[2].(map[string]interface{})["variable"])

	edges := mock.Executed[3].Params["edges"].([]interface{})
	assert.Equal(t, []interface{}{
		map[string]interface{}{"source": "root", "target": "er", "index": 0},
		map[string]interface{}{"source": "root", "target": "home", "index": 1},
	}, edges)
}

func TestGraphStore_GetTree(t *testing.T) {
	doc, err := json.Marshal(sampleTree("fever", "2.0.0"))
	require.NoError(t, err)

	mock := &MockDriver{Results: map[string]neo4j.EagerResult{
		driver.GetLatestTreeQuery: records([]string{"document"}, []interface{}{string(doc)}),
	}}
	s := NewGraphStore(mock, nil)

	tree, err := s.GetTree(context.Background(), "fever")
	require.NoError(t, err)
	assert.Equal(t, sampleTree("fever", "2.0.0"), tree)
	assert.Equal(t, "fever", mock.Executed[0].Params["id"])

	_, err = s.GetTreeVersion(context.Background(), "fever", "0.1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "fever@0.1", mock.Executed[1].Params["key"])
}

func TestGraphStore_ListTrees(t *testing.T) {
	mock := &MockDriver{Results: map[string]neo4j.EagerResult{
		driver.ListTreesQuery: records([]string{"id", "name", "version", "domain", "saved_at"},
			[]interface{}{"cough", "Cough", "1.0.0", "primary_care", int64(1700000000000000000)},
		),
	}}

	list, err := NewGraphStore(mock, nil).ListTrees(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Cough", list[0].Name)
	assert.Equal(t, int64(1700000000), list[0].SavedAt.Unix())
}

func TestGraphStore_DeleteTree(t *testing.T) {
	mock := &MockDriver{Results: map[string]neo4j.EagerResult{
		driver.DeleteTreeQuery: records([]string{"deleted"}, []interface{}{int64(0)}),
	}}
	s := NewGraphStore(mock, nil)
	assert.ErrorIs(t, s.DeleteTree(context.Background(), "fever"), ErrNotFound)

	mock.Results[driver.DeleteTreeQuery] = records([]string{"deleted"}, []interface{}{int64(2)})
	require.NoError(t, s.DeleteTree(context.Background(), "fever"))
	assert.Equal(t, driver.DeleteTreeRunsQuery, mock.Executed[len(mock.Executed)-1].Query)
}

func TestGraphStore_SaveSuiteIsOneQuery(t *testing.T) {
	mock := &MockDriver{}
	suite := sampleSuite("s1", "fever", false)

	require.NoError(t, NewGraphStore(mock, nil).SaveSuite(context.Background(), suite))
	require.Len(t, mock.Executed, 1)
	q := mock.Executed[0]
	assert.Equal(t, driver.SaveSuiteQuery, q.Query)
	assert.Equal(t, 1, q.Params["failed"])
	assert.Len(t, q.Params["results"], 1)

	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(q.Params["document"].(string)), &stored))
	assert.Equal(t, "s1", stored["id"])
}

func TestGraphStore_TestCasesKeepPositions(t *testing.T) {
	existing := `{"id":"tc1","tree_id":"fever","input_values":{},"expected_path":[]}`
	mock := &MockDriver{Results: map[string]neo4j.EagerResult{
		driver.ListTestCasesQuery: records([]string{"document"}, []interface{}{existing}),
	}}
	s := NewGraphStore(mock, nil)

	cases, err := s.ListTestCases(context.Background(), "fever")
	require.NoError(t, err)
	require.Len(t, cases, 1)

	cases = append(cases, cases[0])
	cases[1].ID = "tc2"
	require.NoError(t, s.SaveTestCases(context.Background(), "fever", cases))

	rows := mock.Executed[len(mock.Executed)-1].Params["cases"].([]interface{})
	assert.Equal(t, 0, rows[0].(map[string]interface{})["position"])
	assert.Equal(t, 1, rows[1].(map[string]interface{})["position"])
}

func TestGraphStore_DriverError(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewGraphStore(&MockDriver{Err: boom}, nil)

	_, err := s.GetTree(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.SaveTree(context.Background(), sampleTree("x", "1")), boom)

	mock := &MockDriver{}
	require.NoError(t, NewGraphStore(mock, nil).Close(context.Background()))
	assert.True(t, mock.Closed)
}
