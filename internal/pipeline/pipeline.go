// Package pipeline orchestrates one batch through the helper-column path:
// input schema validation, per-row rule evaluation, and an output-type
// re-validation pass over the computed records.
//
// Failure semantics follow the stage: input validation failing aborts the
// whole batch (computing helper columns against a malformed source schema is
// meaningless), while computation and output validation degrade per row and
// never short-circuit the batch.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"helperetl/internal/metrics"
	"helperetl/internal/rules"
	"helperetl/internal/schema"
	"helperetl/internal/validate"
	"helperetl/pkg/records"
)

// Stage names the pipeline's progress states.
type Stage string

const (
	StagePending          Stage = "pending"
	StageValidating       Stage = "validating"
	StageComputing        Stage = "computing"
	StageOutputValidating Stage = "output-validating"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// SchemaViolationError aborts a batch whose input schema is malformed. It is
// batch-wide and non-retriable.
type SchemaViolationError struct {
	RecordType schema.RecordType
	Result     validate.Result
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation for %s batch: %d violations across %d rows (first: %s)",
		e.RecordType, len(e.Result.Violations), e.Result.RowsAffected(), e.Result.Violations[0])
}

// RowFailure describes a row whose computation failed outright.
type RowFailure struct {
	Row     int
	ID      any
	Columns map[string]string // column → failure message; empty for row-level failures
	Reason  string            // set for row-level failures (e.g. missing identifier)
}

// Report summarizes one transform call. Counts are always populated, success
// included, so silent partial degradation is not possible.
type Report struct {
	Stage      Stage
	InputRows  int
	Succeeded  int            // rows with every column populated
	Partial    int            // rows with at least one null-with-reason column
	Failed     int            // rows with a rule failure
	NullCounts map[string]int // column to null-with-reason occurrences
	Failures   []RowFailure
	Elapsed    time.Duration
}

// Pipeline transforms batches of one record type. Construct once per record
// type and reuse across batches.
type Pipeline struct {
	recordType   schema.RecordType
	set          *rules.Set
	inValidator  *validate.Validator
	outValidator *validate.Validator
	helper       schema.Contract
	workers      int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds the number of goroutines computing rows in parallel.
// Values below 1 fall back to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// New builds a pipeline for the given record type.
func New(t schema.RecordType, opts ...Option) (*Pipeline, error) {
	set, err := rules.ForRecordType(t)
	if err != nil {
		return nil, err
	}
	src, err := schema.SourceContract(t)
	if err != nil {
		return nil, err
	}
	helper, err := schema.HelperContract(t)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		recordType:   t,
		set:          set,
		inValidator:  validate.New(src),
		outValidator: validate.New(helper),
		helper:       helper,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	return p, nil
}

// Transform runs the full path over one batch. The returned error is non-nil
// only for batch-wide conditions: structural misuse or a SchemaViolationError.
// Row-level problems are absorbed into the Report.
func (p *Pipeline) Transform(ctx context.Context, batch []records.Record, ectx *rules.Context) ([]rules.HelperRecord, Report, error) {
	start := time.Now()
	rep := Report{Stage: StagePending, InputRows: len(batch), NullCounts: map[string]int{}}
	if ectx == nil {
		ectx = &rules.Context{AsOf: time.Now().UTC()}
	}

	// 1) Input validation: the one batch-wide gate.
	rep.Stage = StageValidating
	stepStart := time.Now()
	res, err := p.inValidator.Validate(batch)
	if err != nil {
		metrics.RecordStep(string(p.recordType), "validate", err, time.Since(stepStart))
		rep.Stage = StageFailed
		return nil, rep, err
	}
	if !res.OK() {
		sv := &SchemaViolationError{RecordType: p.recordType, Result: res}
		metrics.RecordStep(string(p.recordType), "validate", sv, time.Since(stepStart))
		rep.Stage = StageFailed
		rep.Failed = res.RowsAffected()
		rep.Elapsed = time.Since(start)
		return nil, rep, sv
	}
	metrics.RecordStep(string(p.recordType), "validate", nil, time.Since(stepStart))

	// 2) Row computation: embarrassingly parallel, results slotted by index
	// so output order matches input order.
	rep.Stage = StageComputing
	stepStart = time.Now()

	ctxWithRef := *ectx
	ctxWithRef.Ref = p.set.BuildReference(batch)

	outs := make([]*rules.HelperRecord, len(batch))
	rowErrs := make([]error, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := p.set.ComputeRow(batch[i], &ctxWithRef)
			if err != nil {
				rowErrs[i] = err
				return nil
			}
			outs[i] = &h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rep.Stage = StageFailed
		rep.Elapsed = time.Since(start)
		return nil, rep, err
	}
	metrics.RecordStep(string(p.recordType), "compute", nil, time.Since(stepStart))

	// 3) Output-type re-validation: defense against a rule returning a value
	// outside its declared type. Violations demote the column to failed for
	// that row.
	rep.Stage = StageOutputValidating
	p.checkOutputTypes(outs)

	// 4) Assemble output and counts.
	final := make([]rules.HelperRecord, 0, len(batch))
	for i, h := range outs {
		if h == nil {
			rep.Failed++
			rep.Failures = append(rep.Failures, RowFailure{Row: i, Reason: rowErrs[i].Error()})
			continue
		}
		for col := range h.Nulls {
			rep.NullCounts[col]++
		}
		switch {
		case h.Failed():
			rep.Failed++
			rep.Failures = append(rep.Failures, RowFailure{Row: i, ID: h.ID, Columns: h.Failures})
			// The row still loads: failed columns are null, siblings kept.
			final = append(final, *h)
		case h.Partial():
			rep.Partial++
			final = append(final, *h)
		default:
			rep.Succeeded++
			final = append(final, *h)
		}
	}

	rep.Stage = StageDone
	rep.Elapsed = time.Since(start)

	metrics.RecordRows(string(p.recordType), "succeeded", int64(rep.Succeeded))
	metrics.RecordRows(string(p.recordType), "partial", int64(rep.Partial))
	metrics.RecordRows(string(p.recordType), "failed", int64(rep.Failed))
	log.Printf("transform: type=%s rows=%d succeeded=%d partial=%d failed=%d elapsed=%s",
		p.recordType, rep.InputRows, rep.Succeeded, rep.Partial, rep.Failed,
		rep.Elapsed.Truncate(time.Millisecond))

	return final, rep, nil
}

// checkOutputTypes validates computed values against the helper contract and
// demotes offending columns to per-row failures.
func (p *Pipeline) checkOutputTypes(outs []*rules.HelperRecord) {
	rows := make([]records.Record, 0, len(outs))
	idx := make([]int, 0, len(outs))
	for i, h := range outs {
		if h == nil {
			continue
		}
		rows = append(rows, h.Values)
		idx = append(idx, i)
	}
	if len(rows) == 0 {
		return
	}
	res, err := p.outValidator.Validate(rows)
	if err != nil || res.OK() {
		return
	}
	for _, viol := range res.Violations {
		h := outs[idx[viol.Row]]
		h.Values[viol.Column] = nil
		delete(h.Nulls, viol.Column)
		h.Failures[viol.Column] = "output type check: " + viol.Reason
	}
}

// RecordType returns the record type the pipeline is bound to.
func (p *Pipeline) RecordType() schema.RecordType { return p.recordType }

// Columns returns the helper contract's column order, which the loader uses
// to build positional rows.
func (p *Pipeline) Columns() []string { return p.helper.Columns() }

// Contract returns the output contract.
func (p *Pipeline) Contract() schema.Contract { return p.helper }
