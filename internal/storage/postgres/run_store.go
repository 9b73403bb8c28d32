// Package postgres provides the Postgres-backed search run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storefinder/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "search_runs"

// RunStoreConfig controls the Postgres connection pool used for the ledger.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRunStoreWithPool(p, cfg.Table)
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	search_id     UUID PRIMARY KEY,
	owner         TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	pages_ok      BIGINT NOT NULL DEFAULT 0,
	pages_failed  BIGINT NOT NULL DEFAULT 0,
	products      BIGINT NOT NULL DEFAULT 0,
	stores        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	updated_at    TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row; an existing row is left untouched.
func (s *RunStore) StartRun(ctx context.Context, searchID uuid.UUID, owner string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (search_id, owner, status, started_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (search_id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, searchID, owner, store.RunRunning, startedAt); err != nil {
		return fmt.Errorf("insert search run: %w", err)
	}
	return nil
}

// CompleteRun records the terminal status of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	searchID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	stores int,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, stores = $3, error_message = $4, updated_at = $1
WHERE search_id = $5`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, stores, errMsg, searchID)
	if err != nil {
		return fmt.Errorf("complete search run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete search run %s: %w", searchID, store.ErrRunNotFound)
	}
	return nil
}

// AddPageStats increments the page and product counters of a run.
func (s *RunStore) AddPageStats(
	ctx context.Context,
	searchID uuid.UUID,
	pagesOK, pagesFailed, products int64,
	at time.Time,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET pages_ok = pages_ok + $1, pages_failed = pages_failed + $2, products = products + $3, updated_at = $4
WHERE search_id = $5`, s.table)
	if _, err := s.pool.Exec(ctx, query, pagesOK, pagesFailed, products, at, searchID); err != nil {
		return fmt.Errorf("update search run pages: %w", err)
	}
	return nil
}

// GetRun reads one ledger row.
func (s *RunStore) GetRun(ctx context.Context, searchID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
SELECT search_id, owner, status, started_at, finished_at, pages_ok, pages_failed, products, stores, error_message
FROM %s
WHERE search_id = $1`, s.table)
	var run store.Run
	err := s.pool.QueryRow(ctx, query, searchID).Scan(
		&run.SearchID,
		&run.Owner,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.PagesOK,
		&run.PagesFailed,
		&run.Products,
		&run.Stores,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrRunNotFound
		}
		return store.Run{}, fmt.Errorf("get search run: %w", err)
	}
	return run, nil
}
