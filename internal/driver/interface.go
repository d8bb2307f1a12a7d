package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Statement is one parameterised Cypher query.
type Statement struct {
	Query  string
	Params map[string]interface{}
}

// GraphDriver runs Cypher against a Bolt-compatible graph database.
// ExecuteQuery writes, ExecuteRead may be served by a replica, and
// ExecuteBatch applies its statements in one write transaction.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	ExecuteRead(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	ExecuteBatch(ctx context.Context, stmts []Statement) error
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
