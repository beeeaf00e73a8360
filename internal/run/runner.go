// Package run drives a full helper-column job: drain batches from a source,
// transform each one, and load the computed records into the warehouse.
// Cancellation is cooperative at batch boundaries so an interrupted run never
// leaves a half-loaded sub-batch behind anything but an idempotent upsert.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"helperetl/internal/pipeline"
	"helperetl/internal/rules"
	"helperetl/internal/schema"
	"helperetl/internal/source"
	"helperetl/internal/warehouse"
)

// Summary reports every category for a run, success included, so a caller
// can tell "nothing failed" from "nothing was counted".
type Summary struct {
	RunID      string
	RecordType schema.RecordType
	Batches    int
	InputRows  int
	Succeeded  int
	Partial    int
	Failed     int
	Upserted   int64
	Elapsed    time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("run=%s type=%s batches=%d rows=%d succeeded=%d partial=%d failed=%d upserted=%d elapsed=%s",
		s.RunID, s.RecordType, s.Batches, s.InputRows, s.Succeeded, s.Partial, s.Failed,
		s.Upserted, s.Elapsed.Truncate(time.Millisecond))
}

// Runner executes jobs for one record type. A nil loader puts the runner in
// validate-and-compute mode: batches run the full transform but nothing is
// written to the warehouse.
type Runner struct {
	pipe   *pipeline.Pipeline
	loader *warehouse.Loader
}

// New builds a Runner.
func New(pipe *pipeline.Pipeline, loader *warehouse.Loader) (*Runner, error) {
	if pipe == nil {
		return nil, fmt.Errorf("run: pipeline must not be nil")
	}
	return &Runner{pipe: pipe, loader: loader}, nil
}

// Run drains src until io.EOF, transforming and loading every batch. The
// first batch error stops the run; the summary covers everything processed up
// to that point. Context cancellation is honored between batches and inside
// the transform and load paths.
func (r *Runner) Run(ctx context.Context, src source.Source, ectx *rules.Context) (Summary, error) {
	sum := Summary{
		RunID:      uuid.NewString(),
		RecordType: r.pipe.RecordType(),
	}
	start := time.Now()
	columns := r.pipe.Columns()

	log.Printf("run start: run=%s type=%s load_enabled=%t", sum.RunID, sum.RecordType, r.loader != nil)

	for {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		batch, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, fmt.Errorf("run %s: source: %w", sum.RunID, err)
		}

		out, rep, err := r.pipe.Transform(ctx, batch, ectx)
		sum.Batches++
		sum.InputRows += rep.InputRows
		sum.Succeeded += rep.Succeeded
		sum.Partial += rep.Partial
		sum.Failed += rep.Failed
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, fmt.Errorf("run %s: batch %d: %w", sum.RunID, sum.Batches, err)
		}

		if r.loader != nil {
			n, err := r.loader.Load(ctx, columns, out)
			sum.Upserted += n
			if err != nil {
				sum.Elapsed = time.Since(start)
				return sum, fmt.Errorf("run %s: batch %d: load: %w", sum.RunID, sum.Batches, err)
			}
		}
	}

	sum.Elapsed = time.Since(start)
	log.Printf("run done: %s", sum)
	return sum, nil
}
