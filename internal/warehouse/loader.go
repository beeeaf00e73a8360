// Batched loader: slices a transformed batch into bounded sub-batches and
// drives each one through the repository with retry on transient failures.
//
// Logging mirrors the compute side: one progress line per flushed sub-batch
// with running totals and instantaneous rows/sec.
package warehouse

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sethvargo/go-retry"

	"helperetl/internal/metrics"
	"helperetl/internal/rules"
)

// LoaderConfig bounds the load path.
type LoaderConfig struct {
	RecordType  string
	MaxRows     int           // rows per repository call
	MaxAttempts int           // total attempts per sub-batch, including the first
	BackoffBase time.Duration // first retry delay, doubled per attempt
}

// Loader writes helper records through a Repository in bounded sub-batches.
type Loader struct {
	repo Repository
	cfg  LoaderConfig
}

// NewLoader validates the config and builds a Loader.
func NewLoader(repo Repository, cfg LoaderConfig) (*Loader, error) {
	if repo == nil {
		return nil, fmt.Errorf("loader: repository must not be nil")
	}
	if cfg.MaxRows <= 0 {
		return nil, fmt.Errorf("loader: MaxRows must be > 0")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Loader{repo: repo, cfg: cfg}, nil
}

// Load upserts the records in input order. Columns gives the positional
// layout every repository call uses. Returns rows upserted and the first
// error; on error the already-flushed sub-batches stay loaded, which is safe
// because every repository call is idempotent.
func (l *Loader) Load(ctx context.Context, columns []string, recs []rules.HelperRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	var (
		total     int64
		batches   int64
		start     = time.Now()
		lastFlush = start
		lastTotal int64
	)

	for off := 0; off < len(recs); off += l.cfg.MaxRows {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(off+l.cfg.MaxRows, len(recs))

		rows := make([][]any, 0, end-off)
		for _, rec := range recs[off:end] {
			row := make([]any, len(columns))
			for j, c := range columns {
				row[j] = rec.Values[c]
			}
			rows = append(rows, row)
		}

		n, err := l.upsertWithRetry(ctx, columns, rows)
		total += n
		if err != nil {
			log.Printf("loader: upsert failed type=%s batch=%d rows=%d total=%d err=%v",
				l.cfg.RecordType, batches+1, len(rows), total, err)
			return total, err
		}

		batches++
		now := time.Now()
		sinceLast := now.Sub(lastFlush)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		log.Printf("batch #%d: type=%s rps=%.0f upserted=%d total_upserted=%d elapsed=%s",
			batches, l.cfg.RecordType, rps, n, total, now.Sub(start).Truncate(time.Millisecond))
		lastFlush = now
		lastTotal = total

		metrics.RecordBatches(l.cfg.RecordType, 1)
		metrics.RecordRows(l.cfg.RecordType, "upserted", n)
	}

	return total, nil
}

// upsertWithRetry drives one sub-batch through the repository, retrying only
// failures Transient recognizes. Backoff doubles from BackoffBase and the
// total attempt count is capped at MaxAttempts.
func (l *Loader) upsertWithRetry(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	var n int64
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(l.cfg.MaxAttempts-1), retry.NewExponential(l.cfg.BackoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		got, err := l.repo.UpsertBatch(ctx, columns, rows)
		if err == nil {
			n = got
			return nil
		}
		if Transient(err) {
			log.Printf("loader: transient failure type=%s attempt=%d rows=%d err=%v",
				l.cfg.RecordType, attempt, len(rows), err)
			return retry.RetryableError(err)
		}
		return err
	})
	return n, err
}
