// Package warehouse contains backend-agnostic contracts for loading computed
// helper records into the destination tables. Concrete backends (BigQuery,
// Postgres, SQLite) register themselves with the kind-keyed factory at init
// time; callers obtain a Repository via New without importing any backend
// directly.
package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository is a backend's bulk upsert capability. UpsertBatch writes the
// given rows (aligned to the columns order) into the target table, replacing
// any existing row with the same key. Implementations must be idempotent:
// upserting the same rows twice leaves the table unchanged.
type Repository interface {
	UpsertBatch(ctx context.Context, columns []string, rows [][]any) (int64, error)
	Close()
}

// Config carries everything a backend needs to open a Repository. Fields
// unused by a given backend are ignored by it.
type Config struct {
	Kind       string   // backend selector: "bigquery", "postgres", "sqlite"
	DSN        string   // connection string (postgres, sqlite)
	Project    string   // GCP project (bigquery)
	Dataset    string   // dataset name (bigquery)
	Table      string   // target table name
	Columns    []string // ordered columns for load
	KeyColumns []string // upsert key columns
}

// Factory constructs a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under the given kind. Intended to be
// called from backend init functions; later registrations for the same kind
// replace earlier ones.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository for cfg.Kind. The error for an unknown kind lists
// the registered kinds so a missing blank import is easy to spot.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("warehouse: unknown kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("warehouse: no columns configured")
	}
	if len(cfg.KeyColumns) == 0 {
		return nil, fmt.Errorf("warehouse: no key columns configured")
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
