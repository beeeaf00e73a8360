// Package rules implements the helper-column rule engine.
//
// Each helper column is produced by exactly one Rule: a pure function of one
// raw record plus the run's evaluation context (as-of timestamp, rounding
// policy, and per-batch read-only reference data). Rules never read another
// rule's output, so the set for a row can be evaluated in any order or in
// parallel.
//
// A rule that cannot compute because its inputs are absent or unparseable
// yields a null-with-reason result, not an error; the row stays in the batch
// with its other columns populated. A rule that panics is recorded as a
// computation failure for that column and, again, never aborts the batch.
package rules

import (
	"fmt"
	"math"
	"time"

	"helperetl/internal/schema"
	"helperetl/pkg/records"
)

// Result is the tagged outcome of one rule for one row: a value, or an
// explicit not-applicable marker with the reason recorded.
type Result struct {
	Value  any
	Null   bool
	Reason string

	// err marks an unexpected rule failure (panic), set only by evalRule.
	err error
}

// Ok wraps a computed value.
func Ok(v any) Result { return Result{Value: v} }

// NA marks the column null for this row with the given reason.
func NA(reason string) Result { return Result{Null: true, Reason: reason} }

// Rounding is the explicit precision policy for a numeric column. Half-even
// rounding keeps repeated runs byte-identical, which the idempotent reload
// model depends on.
type Rounding struct {
	Places int
}

// Apply rounds x half-to-even at the configured number of decimal places.
func (p Rounding) Apply(x float64) float64 {
	scale := math.Pow10(p.Places)
	return math.RoundToEven(x*scale) / scale
}

// Context carries the per-run inputs threaded through every rule call.
// AsOf is fixed for the whole run so date-relative columns are internally
// consistent no matter how long a batch takes to process.
type Context struct {
	AsOf     time.Time
	Rounding map[string]Rounding // column → policy; only listed columns round
	Ref      Reference           // per-batch read-only reference data, may be nil
}

// Reference is opaque per-record-type reference data built once per batch
// (e.g. visit-group statistics for appointments). Rules downcast it.
type Reference interface{}

// Rule binds one helper column to its derivation function.
type Rule struct {
	Column string
	Type   string   // declared output type, checked by the pipeline's second pass
	Inputs []string // source columns the rule reads, for documentation and auditing
	Fn     func(rec records.Record, ctx *Context) Result
}

// Set is the closed rule set for one record type.
type Set struct {
	recordType schema.RecordType
	key        string
	rules      []Rule
	buildRef   func(batch []records.Record) Reference
}

// ForRecordType returns the rule set for t. This is the only dispatch point;
// there is no mutable global registry.
func ForRecordType(t schema.RecordType) (*Set, error) {
	switch t {
	case schema.Subscription:
		return subscriptionSet(), nil
	case schema.Appointment:
		return appointmentSet(), nil
	default:
		return nil, fmt.Errorf("no rule set for record type %q", t)
	}
}

// RecordType returns the record type the set is bound to.
func (s *Set) RecordType() schema.RecordType { return s.recordType }

// Rules returns the rules in output-column order.
func (s *Set) Rules() []Rule { return s.rules }

// BuildReference precomputes the batch-level reference data the rules read.
// The result is immutable from the rules' point of view. Returns nil when the
// record type needs none.
func (s *Set) BuildReference(batch []records.Record) Reference {
	if s.buildRef == nil {
		return nil
	}
	return s.buildRef(batch)
}

// HelperRecord is the computed output for one row: the identifier plus every
// helper column, each either populated, null with a recorded reason, or
// failed with the rule's error.
type HelperRecord struct {
	ID       any
	Values   records.Record    // column → computed value (nil for null columns)
	Nulls    map[string]string // column → not-applicable reason
	Failures map[string]string // column → rule failure message
}

// Partial reports whether any column is null-for-reason.
func (h HelperRecord) Partial() bool { return len(h.Nulls) > 0 }

// Failed reports whether any rule failed outright for this row.
func (h HelperRecord) Failed() bool { return len(h.Failures) > 0 }

// ComputeRow evaluates every rule in the set against one raw record. The
// record is never mutated. A missing identifier is the one per-row condition
// that is an error: without it the output row cannot be keyed for upsert.
func (s *Set) ComputeRow(rec records.Record, ctx *Context) (HelperRecord, error) {
	id, ok := rec[s.key]
	if !ok || id == nil {
		return HelperRecord{}, fmt.Errorf("record has no identifier column %q", s.key)
	}

	out := HelperRecord{
		ID:       id,
		Values:   make(records.Record, len(s.rules)+1),
		Nulls:    map[string]string{},
		Failures: map[string]string{},
	}
	out.Values[s.key] = id

	for i := range s.rules {
		rule := &s.rules[i]
		res := evalRule(rule, rec, ctx)
		switch {
		case res.Null:
			out.Values[rule.Column] = nil
			out.Nulls[rule.Column] = res.Reason
		default:
			out.Values[rule.Column] = res.Value
		}
		if res.err != nil {
			out.Values[rule.Column] = nil
			delete(out.Nulls, rule.Column)
			out.Failures[rule.Column] = res.err.Error()
		}
	}
	return out, nil
}

// evalRule runs one rule, converting a panic into a per-column failure.
func evalRule(rule *Rule, rec records.Record, ctx *Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Null: true, err: fmt.Errorf("rule %q: %v", rule.Column, r)}
		}
	}()
	return rule.Fn(rec, ctx)
}

// roundFor applies the configured rounding for a column, falling back to the
// rule set's default policy when the run config does not override it.
func roundFor(ctx *Context, column string, def *Rounding, x float64) float64 {
	if ctx != nil && ctx.Rounding != nil {
		if p, ok := ctx.Rounding[column]; ok {
			return p.Apply(x)
		}
	}
	if def != nil {
		return def.Apply(x)
	}
	return x
}

// passthrough copies a source column into the helper record unchanged.
func passthrough(column, typ string) Rule {
	return Rule{
		Column: column,
		Type:   typ,
		Inputs: []string{column},
		Fn: func(rec records.Record, _ *Context) Result {
			v, ok := rec[column]
			if !ok || v == nil {
				return NA("source column " + column + " absent")
			}
			return Ok(v)
		},
	}
}
