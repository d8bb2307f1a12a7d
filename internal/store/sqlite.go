package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenthands/caire/internal/core/model"
)

// SQLiteStore persists everything in one SQLite file. Documents are stored as
// JSON next to the columns used for lookup and ordering.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// writes are serialized by SQLite anyway
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "memory" && journalMode != "delete" {
		db.Close()
		return nil, fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	s := &SQLiteStore{db: db, now: time.Now, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("opened sqlite store", "path", dbPath, "journal_mode", journalMode)
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trees (
		id TEXT NOT NULL,
		version TEXT NOT NULL,
		name TEXT NOT NULL,
		domain TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_trees_latest ON trees(id, seq);

	CREATE TABLE IF NOT EXISTS test_cases (
		id TEXT PRIMARY KEY,
		tree_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_test_cases_tree_id ON test_cases(tree_id, position);

	CREATE TABLE IF NOT EXISTS test_suites (
		id TEXT PRIMARY KEY,
		tree_id TEXT NOT NULL,
		tree_version TEXT,
		run_at INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		total INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_test_suites_tree_id ON test_suites(tree_id, seq);

	CREATE TABLE IF NOT EXISTS test_results (
		suite_id TEXT NOT NULL REFERENCES test_suites(id) ON DELETE CASCADE,
		test_case_id TEXT NOT NULL,
		passed INTEGER NOT NULL,
		error TEXT,
		execution_time_ms REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_test_results_suite_id ON test_results(suite_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveTree(ctx context.Context, tree *model.Tree) error {
	data, err := encodeTree(tree)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trees (id, version, name, domain, saved_at, seq, data)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM trees), ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			domain = excluded.domain,
			saved_at = excluded.saved_at,
			seq = excluded.seq,
			data = excluded.data`,
		tree.ID, tree.Version, tree.Name, tree.Domain, s.now().UTC().UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save tree: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTree(ctx context.Context, id string) (*model.Tree, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM trees WHERE id = ? ORDER BY seq DESC LIMIT 1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tree", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	return decodeTree([]byte(data))
}

func (s *SQLiteStore) GetTreeVersion(ctx context.Context, id, version string) (*model.Tree, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM trees WHERE id = ? AND version = ?`, id, version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tree", treeKey(id, version))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tree version: %w", err)
	}
	return decodeTree([]byte(data))
}

func (s *SQLiteStore) ListTrees(ctx context.Context) ([]TreeSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.version, t.domain, t.saved_at
		FROM trees t
		WHERE t.seq = (SELECT MAX(seq) FROM trees WHERE id = t.id)
		ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}
	defer rows.Close()

	out := []TreeSummary{}
	for rows.Next() {
		var ts TreeSummary
		var savedAt int64
		if err := rows.Scan(&ts.ID, &ts.Name, &ts.Version, &ts.Domain, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tree: %w", err)
		}
		ts.SavedAt = time.Unix(0, savedAt).UTC()
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DeleteTree removes every version of the tree with its test cases and suites.
func (s *SQLiteStore) DeleteTree(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM trees WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tree: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("tree", id)
	}
	for _, q := range []string{
		`DELETE FROM test_cases WHERE tree_id = ?`,
		`DELETE FROM test_results WHERE suite_id IN (SELECT id FROM test_suites WHERE tree_id = ?)`,
		`DELETE FROM test_suites WHERE tree_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete tree runs: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveTestCases(ctx context.Context, treeID string, cases []model.TestCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM test_cases WHERE tree_id = ?`, treeID).Scan(&next); err != nil {
		return fmt.Errorf("failed to read case positions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO test_cases (id, tree_id, position, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tree_id = excluded.tree_id, data = excluded.data`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, tc := range cases {
		tc.TreeID = treeID
		data, err := encodeTestCase(tc)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, tc.ID, treeID, next, string(data)); err != nil {
			return fmt.Errorf("failed to save test case %s: %w", tc.ID, err)
		}
		next++
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTestCases(ctx context.Context, treeID string) ([]model.TestCase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM test_cases WHERE tree_id = ? ORDER BY position, id`, treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	out := []model.TestCase{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		tc, err := decodeTestCase([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// SaveSuite writes the snapshot and its result rows in one transaction.
func (s *SQLiteStore) SaveSuite(ctx context.Context, suite *model.TestSuite) error {
	data, err := encodeSuite(suite)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM test_results WHERE suite_id = ?`, suite.ID); err != nil {
		return fmt.Errorf("failed to replace suite results: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO test_suites (id, tree_id, tree_version, run_at, seq, total, passed, failed, data)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM test_suites), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tree_id = excluded.tree_id,
			tree_version = excluded.tree_version,
			run_at = excluded.run_at,
			total = excluded.total,
			passed = excluded.passed,
			failed = excluded.failed,
			data = excluded.data`,
		suite.ID, suite.TreeID, suite.TreeVersion, suite.RunAt.UTC().UnixNano(),
		suite.Total, suite.Passed, suite.Failed, string(data))
	if err != nil {
		return fmt.Errorf("failed to save suite: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO test_results (suite_id, test_case_id, passed, error, execution_time_ms)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range suite.Results {
		ms := float64(r.Elapsed) / float64(time.Millisecond)
		if _, err := stmt.ExecContext(ctx, suite.ID, r.TestCaseID, r.Passed, r.Error, ms); err != nil {
			return fmt.Errorf("failed to save result %s: %w", r.TestCaseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit suite: %w", err)
	}
	s.logger.Debug("saved suite", "suite_id", suite.ID, "tree_id", suite.TreeID, "results", len(suite.Results))
	return nil
}

func (s *SQLiteStore) GetSuite(ctx context.Context, id string) (*model.TestSuite, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM test_suites WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("suite", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}
	return decodeSuite([]byte(data))
}

func (s *SQLiteStore) LatestSuite(ctx context.Context, treeID string) (*model.TestSuite, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM test_suites WHERE tree_id = ? ORDER BY seq DESC LIMIT 1`, treeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("suite for tree", treeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest suite: %w", err)
	}
	return decodeSuite([]byte(data))
}
