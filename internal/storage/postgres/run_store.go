// Package postgres persists sitemap run metadata in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const defaultTable = "sitemap_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore writes one row per sitemap crawl:
//
//	sitemap_runs(run_id, sitemap_url, dataset, post_urls_count, table_sha256, finished_at)
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRun inserts a run row. Re-storing a run ID overwrites its counters.
func (s *RunStore) StoreRun(ctx context.Context, meta crawler.RunMetadata) error {
	if s == nil || s.pool == nil {
		return errors.New("run store is not configured")
	}
	if meta.RunID == "" {
		return errors.New("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	sitemap_url,
	dataset,
	post_urls_count,
	table_sha256,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (run_id) DO UPDATE
SET post_urls_count = EXCLUDED.post_urls_count,
	table_sha256 = EXCLUDED.table_sha256,
	finished_at = EXCLUDED.finished_at`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		meta.RunID,
		meta.URL,
		meta.Dataset,
		meta.PostURLsCount,
		meta.TableSHA256,
		meta.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert sitemap run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]crawler.RunMetadata, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("run store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT run_id, sitemap_url, dataset, post_urls_count, table_sha256, finished_at
FROM %s
ORDER BY finished_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sitemap runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crawler.RunMetadata, error) {
		var meta crawler.RunMetadata
		err := row.Scan(&meta.RunID, &meta.URL, &meta.Dataset, &meta.PostURLsCount, &meta.TableSHA256, &meta.FinishedAt)
		return meta, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sitemap runs: %w", err)
	}
	return runs, nil
}
