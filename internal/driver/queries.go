package driver

// Trees are stored once per (id, version) under key "<id>@<version>". The
// full document lives on the Tree node; nodes and CHILD edges are mirrored so
// the structure can be queried in Cypher.

var IndexQueries = []string{
	"CREATE INDEX ON :Tree(id);",
	"CREATE INDEX ON :Tree(key);",
	"CREATE INDEX ON :DecisionNode(key);",
	"CREATE INDEX ON :TestCase(id);",
	"CREATE INDEX ON :TestCase(tree_id);",
	"CREATE INDEX ON :TestSuite(id);",
	"CREATE INDEX ON :TestSuite(tree_id);",
}

const (
	SaveTreeQuery = `
		MERGE (t:Tree {key: $key})
		SET t.id = $id,
			t.version = $version,
			t.name = $name,
			t.domain = $domain,
			t.root_node_id = $root_node_id,
			t.document = $document,
			t.saved_at = $saved_at
		RETURN t.key AS key
	`

	ClearTreeNodesQuery = `
		MATCH (:Tree {key: $key})-[:HAS_NODE]->(n:DecisionNode)
		DETACH DELETE n
	`

	SaveTreeNodesQuery = `
		MATCH (t:Tree {key: $key})
		UNWIND $nodes AS node
		CREATE (t)-[:HAS_NODE]->(:DecisionNode {
			key: $key + '/' + node.id,
			node_id: node.id,
			type: node.type,
			label: node.label,
			variable: node.variable
		})
	`

	SaveTreeEdgesQuery = `
		UNWIND $edges AS edge
		MATCH (a:DecisionNode {key: $key + '/' + edge.source})
		MATCH (b:DecisionNode {key: $key + '/' + edge.target})
		CREATE (a)-[:CHILD {index: edge.index}]->(b)
	`

	GetLatestTreeQuery = `
		MATCH (t:Tree {id: $id})
		RETURN t.document AS document
		ORDER BY t.saved_at DESC
		LIMIT 1
	`

	GetTreeVersionQuery = `
		MATCH (t:Tree {key: $key})
		RETURN t.document AS document
	`

	ListTreesQuery = `
		MATCH (t:Tree)
		WITH t ORDER BY t.saved_at DESC
		WITH t.id AS id, collect(t)[0] AS latest
		RETURN latest.id AS id,
			latest.name AS name,
			latest.version AS version,
			latest.domain AS domain,
			latest.saved_at AS saved_at
		ORDER BY id
	`

	DeleteTreeQuery = `
		MATCH (t:Tree {id: $id})
		OPTIONAL MATCH (t)-[:HAS_NODE]->(n:DecisionNode)
		WITH collect(DISTINCT t) AS trees, collect(n) AS nodes
		FOREACH (x IN nodes | DETACH DELETE x)
		FOREACH (x IN trees | DETACH DELETE x)
		RETURN size(trees) AS deleted
	`

	DeleteTreeRunsQuery = `
		OPTIONAL MATCH (tc:TestCase {tree_id: $id})
		OPTIONAL MATCH (s:TestSuite {tree_id: $id})
		OPTIONAL MATCH (s)-[:HAS_RESULT]->(r:TestResult)
		WITH collect(DISTINCT tc) + collect(DISTINCT s) + collect(DISTINCT r) AS doomed
		FOREACH (x IN doomed | DETACH DELETE x)
	`

	SaveTestCasesQuery = `
		UNWIND $cases AS c
		MERGE (tc:TestCase {id: c.id})
		SET tc.tree_id = c.tree_id,
			tc.position = c.position,
			tc.document = c.document
	`

	ListTestCasesQuery = `
		MATCH (tc:TestCase {tree_id: $tree_id})
		RETURN tc.document AS document
		ORDER BY tc.position, tc.id
	`

	SaveSuiteQuery = `
		CREATE (s:TestSuite {
			id: $id,
			tree_id: $tree_id,
			tree_version: $tree_version,
			run_at: $run_at,
			total: $total,
			passed: $passed,
			failed: $failed,
			document: $document
		})
		WITH s
		UNWIND $results AS r
		CREATE (s)-[:HAS_RESULT]->(:TestResult {
			test_case_id: r.test_case_id,
			passed: r.passed,
			error: r.error
		})
	`

	GetSuiteQuery = `
		MATCH (s:TestSuite {id: $id})
		RETURN s.document AS document
	`

	LatestSuiteQuery = `
		MATCH (s:TestSuite {tree_id: $tree_id})
		RETURN s.document AS document
		ORDER BY s.run_at DESC
		LIMIT 1
	`
)
