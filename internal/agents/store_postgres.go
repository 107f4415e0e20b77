package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initResultSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initResultSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_results (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			annotation TEXT NOT NULL,
			status TEXT NOT NULL,
			response TEXT NULL,
			children JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_results_settled ON agent_results (settled_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_results_parent ON agent_results (parent_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init agent_results schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, rec Record) error {
	children := rec.Children
	if children == nil {
		children = []ChildOutcome{}
	}
	childrenJSON, err := json.Marshal(children)
	if err != nil {
		return fmt.Errorf("marshal children: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_results (
			id, parent_id, content, annotation, status, response, children, created_at, settled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			parent_id=EXCLUDED.parent_id,
			content=EXCLUDED.content,
			annotation=EXCLUDED.annotation,
			status=EXCLUDED.status,
			response=EXCLUDED.response,
			children=EXCLUDED.children,
			created_at=EXCLUDED.created_at,
			settled_at=EXCLUDED.settled_at`,
		rec.ID,
		rec.ParentID,
		rec.Content,
		rec.Annotation,
		string(rec.Status),
		rec.Response,
		childrenJSON,
		rec.CreatedAt,
		rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("save agent result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResult(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, parent_id, content, annotation, status, response, children, created_at, settled_at
		 FROM agent_results WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrStoreNotFound
		}
		return Record{}, fmt.Errorf("get agent result: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, parent_id, content, annotation, status, response, children, created_at, settled_at
		 FROM agent_results ORDER BY settled_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list agent results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent result: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent results: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec          Record
		status       string
		childrenJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ParentID,
		&rec.Content,
		&rec.Annotation,
		&status,
		&rec.Response,
		&childrenJSON,
		&rec.CreatedAt,
		&rec.SettledAt,
	); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	if len(childrenJSON) > 0 {
		if err := json.Unmarshal(childrenJSON, &rec.Children); err != nil {
			return Record{}, fmt.Errorf("unmarshal children: %w", err)
		}
	}
	if len(rec.Children) == 0 {
		rec.Children = nil
	}
	return rec, nil
}
