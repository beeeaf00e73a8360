// Package source abstracts where raw record batches come from. A Source
// yields bounded batches so the runner never holds a whole extract in memory.
package source

import (
	"context"

	"helperetl/pkg/records"
)

// Source iterates record batches. Next returns io.EOF after the final batch;
// a non-empty final batch is returned with a nil error first.
type Source interface {
	Next(ctx context.Context) ([]records.Record, error)
	Close() error
}
