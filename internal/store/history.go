// Package store persists finished job runs to Postgres. The store is
// optional; without a DSN the service keeps everything in memory only.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run is one recorded job execution.
type Run struct {
	JobID      string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Pages      int        `json:"pages"`
	Items      int        `json:"items"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// querier is the pgxpool subset the store uses; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// History records job runs in the job_runs table.
//
// Expected schema:
//
//	CREATE TABLE job_runs (
//	    job_id      TEXT PRIMARY KEY,
//	    kind        TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    error       TEXT,
//	    pages       INT NOT NULL DEFAULT 0,
//	    items       INT NOT NULL DEFAULT 0,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ
//	);
type History struct {
	db querier
}

// New connects a pool to the DSN.
func New(ctx context.Context, dsn string) (*History, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &History{db: pool}, nil
}

// NewWithDB wraps an existing pool, used by tests.
func NewWithDB(db querier) (*History, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &History{db: db}, nil
}

// RecordStart upserts the run as running.
func (h *History) RecordStart(ctx context.Context, jobID, kind string, startedAt time.Time) error {
	query := `
		INSERT INTO job_runs (job_id, kind, status, started_at)
		VALUES ($1, $2, 'running', $3)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status, started_at = EXCLUDED.started_at;
	`
	if _, err := h.db.Exec(ctx, query, jobID, kind, startedAt); err != nil {
		return fmt.Errorf("record job start: %w", err)
	}
	return nil
}

// RecordFinish marks the run terminal with its counters.
func (h *History) RecordFinish(ctx context.Context, jobID string, finishedAt time.Time, status, errMsg string, pages, items int) error {
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	query := `
		UPDATE job_runs
		SET status = $1, error = $2, pages = $3, items = $4, finished_at = $5
		WHERE job_id = $6;
	`
	if _, err := h.db.Exec(ctx, query, status, errVal, pages, items, finishedAt, jobID); err != nil {
		return fmt.Errorf("record job finish: %w", err)
	}
	return nil
}

// Recent returns runs newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `
		SELECT job_id, kind, status, COALESCE(error, ''), pages, items, started_at, finished_at
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT $1;
	`
	rows, err := h.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.JobID, &r.Kind, &r.Status, &r.Error, &r.Pages, &r.Items, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

// Close closes the pool.
func (h *History) Close() {
	h.db.Close()
}
