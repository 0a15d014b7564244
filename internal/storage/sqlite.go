package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"depgraph/internal/graph"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const defaultBatchSize = 500

// commitLayout sorts lexically in commit order.
const commitLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db        *sql.DB
	batchSize int
}

type SQLiteOption func(*SQLiteStore)

// WithBatchSize sets how many rows CommitGraph writes between cancellation checks.
func WithBatchSize(n int) SQLiteOption {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			repository TEXT NOT NULL,
			id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			name TEXT NOT NULL,
			file_path TEXT,
			content_hash TEXT,
			properties JSON,
			PRIMARY KEY (repository, id)
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			repository TEXT NOT NULL,
			id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			rule TEXT,
			confidence REAL,
			PRIMARY KEY (repository, source_id, target_id, relation_type)
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			repository TEXT NOT NULL,
			committed_at TEXT NOT NULL,
			node_count INTEGER,
			edge_count INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(repository, file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repository, committed_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

const upsertNodeSQL = `
	INSERT INTO nodes (repository, id, node_type, name, file_path, content_hash, properties)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository, id) DO UPDATE SET
		node_type=excluded.node_type,
		name=excluded.name,
		file_path=excluded.file_path,
		content_hash=excluded.content_hash,
		properties=excluded.properties
`

const upsertEdgeSQL = `
	INSERT INTO edges (repository, id, source_id, target_id, relation_type, rule, confidence)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository, source_id, target_id, relation_type) DO UPDATE SET
		id=excluded.id,
		rule=excluded.rule,
		confidence=excluded.confidence
`

func nodeArgs(n *graph.Node) ([]any, error) {
	props, err := json.Marshal(n.Properties)
	if err != nil {
		return nil, fmt.Errorf("encode node %s: %w", n.ID, err)
	}
	return []any{n.Repository, n.ID, n.Type, n.Properties.Name, n.Properties.FilePath, n.Properties.ContentHash, props}, nil
}

func edgeArgs(e graph.Edge) []any {
	return []any{e.Repository, e.ID, e.SourceID, e.TargetID, e.Type, e.Rule, e.Confidence}
}

func (s *SQLiteStore) UpsertNode(ctx context.Context, node *graph.Node) (*graph.Node, error) {
	if node == nil || node.ID == "" || node.Properties.Name == "" {
		return nil, &graph.InvariantViolation{Reason: "node without id or name"}
	}
	args, err := nodeArgs(node)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, upsertNodeSQL, args...); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *SQLiteStore) UpsertEdge(ctx context.Context, edge graph.Edge) (*graph.Edge, error) {
	if edge.ID == "" {
		edge.ID = graph.EdgeID(edge.SourceID, edge.TargetID, edge.Type)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	want := 2
	if edge.SourceID == edge.TargetID {
		want = 1
	}
	var found int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE repository = ? AND id IN (?, ?)`,
		edge.Repository, edge.SourceID, edge.TargetID,
	).Scan(&found); err != nil {
		return nil, err
	}
	if found != want {
		return nil, fmt.Errorf("%w: %s -> %s in %s", ErrMissingEndpoint, edge.SourceID, edge.TargetID, edge.Repository)
	}
	if _, err := tx.ExecContext(ctx, upsertEdgeSQL, edgeArgs(edge)...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &edge, nil
}

// CommitGraph is a snapshot write: rows of the repository that g no longer
// holds are removed in the same transaction that writes the new ones.
func (s *SQLiteStore) CommitGraph(ctx context.Context, g *graph.Graph) (string, error) {
	if g == nil {
		return "", errors.New("nil graph")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE repository = ?`, g.Repository); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE repository = ?`, g.Repository); err != nil {
		return "", err
	}

	nodeStmt, err := tx.PrepareContext(ctx, upsertNodeSQL)
	if err != nil {
		return "", err
	}
	defer nodeStmt.Close()
	for i, node := range g.SortedNodes() {
		if err := s.checkpoint(ctx, i); err != nil {
			return "", err
		}
		args, err := nodeArgs(node)
		if err != nil {
			return "", err
		}
		if _, err := nodeStmt.ExecContext(ctx, args...); err != nil {
			return "", err
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, upsertEdgeSQL)
	if err != nil {
		return "", err
	}
	defer edgeStmt.Close()
	for i, edge := range g.SortedEdges() {
		if err := s.checkpoint(ctx, i); err != nil {
			return "", err
		}
		if _, err := edgeStmt.ExecContext(ctx, edgeArgs(edge)...); err != nil {
			return "", err
		}
	}

	runID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, repository, committed_at, node_count, edge_count) VALUES (?, ?, ?, ?, ?)`,
		runID, g.Repository, time.Now().UTC().Format(commitLayout), len(g.Nodes), len(g.Edges),
	); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *SQLiteStore) checkpoint(ctx context.Context, i int) error {
	if i%s.batchSize == 0 {
		return ctx.Err()
	}
	return nil
}

func (s *SQLiteStore) GetGraphStats(ctx context.Context, repository string) (graph.Health, error) {
	var nodes []graph.Node
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_type FROM nodes WHERE repository = ?`, repository)
	if err != nil {
		return graph.Health{}, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n := graph.Node{Repository: repository}
		if err := rows.Scan(&n.ID, &n.Type); err != nil {
			return graph.Health{}, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return graph.Health{}, err
	}

	edges, err := s.loadEdges(ctx, repository)
	if err != nil {
		return graph.Health{}, err
	}
	return graph.ComputeHealth(nodes, edges), nil
}

func (s *SQLiteStore) LoadGraph(ctx context.Context, repository string) (*graph.Graph, error) {
	g := graph.NewGraph(repository)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_type, properties FROM nodes WHERE repository = ? ORDER BY id`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n := &graph.Node{Repository: repository}
		var props []byte
		if err := rows.Scan(&n.ID, &n.Type, &props); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &n.Properties); err != nil {
				return nil, fmt.Errorf("decode node %s: %w", n.ID, err)
			}
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges, err := s.loadEdges(ctx, repository)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if _, err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *SQLiteStore) loadEdges(ctx context.Context, repository string) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation_type, rule, confidence FROM edges
		WHERE repository = ?
		ORDER BY source_id, target_id, relation_type`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		e := graph.Edge{Repository: repository}
		var rule sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type, &rule, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Rule = rule.String
		e.Confidence = confidence.Float64
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// RunInfo describes one committed indexing run.
type RunInfo struct {
	RunID       string
	Repository  string
	CommittedAt time.Time
	Nodes       int
	Edges       int
}

// LastRun returns the most recent committed run of repository.
func (s *SQLiteStore) LastRun(ctx context.Context, repository string) (*RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, committed_at, node_count, edge_count FROM runs
		WHERE repository = ? ORDER BY committed_at DESC, rowid DESC LIMIT 1`, repository)

	info := &RunInfo{Repository: repository}
	var committed string
	if err := row.Scan(&info.RunID, &committed, &info.Nodes, &info.Edges); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run for %s: %w", repository, ErrNotFound)
		}
		return nil, err
	}
	t, err := time.Parse(commitLayout, committed)
	if err != nil {
		return nil, fmt.Errorf("parse commit time: %w", err)
	}
	info.CommittedAt = t
	return info, nil
}
