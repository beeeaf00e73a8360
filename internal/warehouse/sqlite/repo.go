// Package sqlite implements a SQLite-backed warehouse.Repository using
// database/sql with the modernc.org/sqlite driver. Upserts use INSERT ... ON
// CONFLICT DO UPDATE inside a transaction; SQLite has no bulk-load primitive,
// but a prepared statement in one transaction keeps moderate volumes fast.
// Intended for local runs and tests; production loads go to BigQuery or
// Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"helperetl/internal/warehouse"
)

// Config holds SQLite repository configuration.
type Config struct {
	DSN        string // passed to database/sql, e.g. "file:helper.db?cache=shared"
	Table      string
	KeyColumns []string
}

// Repository is a SQLite-backed warehouse.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens the database and pings it to fail fast on bad DSNs.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, nil
}

// Close closes the database handle.
func (r *Repository) Close() { _ = r.db.Close() }

// DB exposes the handle for table setup in tests.
func (r *Repository) DB() *sql.DB { return r.db }

// UpsertBatch implements warehouse.Repository.
func (r *Repository) UpsertBatch(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: UpsertBatch: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	stmtSQL := r.upsertSQL(columns)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	var upserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: UpsertBatch: row length %d != columns length %d", len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("sqlite: upsert: %w", err)
		}
		upserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return upserted, nil
}

// upsertSQL builds INSERT ... ON CONFLICT (<keys>) DO UPDATE SET for the
// non-key columns.
func (r *Repository) upsertSQL(columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	keySet := make(map[string]struct{}, len(r.cfg.KeyColumns))
	for _, k := range r.cfg.KeyColumns {
		keySet[k] = struct{}{}
	}
	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, isKey := keySet[c]; isKey {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		r.cfg.Table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(r.cfg.KeyColumns, ", "),
		strings.Join(sets, ", "),
	)
}

func init() {
	warehouse.Register("sqlite", func(ctx context.Context, cfg warehouse.Config) (warehouse.Repository, error) {
		return NewRepository(ctx, Config{
			DSN:        cfg.DSN,
			Table:      cfg.Table,
			KeyColumns: cfg.KeyColumns,
		})
	})
}
