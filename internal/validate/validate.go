// Package validate checks raw record batches against a schema contract before
// any helper-column computation runs.
//
// The validator is pure inspection: it never mutates a batch and never drops
// rows. Every violation found across the whole batch is collected, row-indexed,
// so the caller can choose between skip-row and abort-batch policies instead
// of learning about problems one at a time.
//
// Data-quality problems are reported in the Result. An error return is
// reserved for structural misuse: an empty batch or an unknown record type.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"helperetl/internal/schema"
	"helperetl/pkg/records"
)

// Violation is one failed check for one row.
type Violation struct {
	Row    int    // index into the batch
	Column string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("row %d: column %q: %s", v.Row, v.Column, v.Reason)
}

// Result aggregates every violation found in a batch.
type Result struct {
	Violations []Violation
}

// OK reports whether the batch passed with no violations.
func (r Result) OK() bool { return len(r.Violations) == 0 }

// RowsAffected returns the number of distinct rows with at least one violation.
func (r Result) RowsAffected() int {
	seen := map[int]struct{}{}
	for _, v := range r.Violations {
		seen[v.Row] = struct{}{}
	}
	return len(seen)
}

// fieldMeta is the precomputed hot-path data for one contract field.
type fieldMeta struct {
	name     string
	kind     string
	required bool
	layout   string
	enumSet  map[string]struct{}
	enumList []string
}

// Validator validates batches against a single contract. Build one per
// contract and reuse it; meta compilation happens once in New.
type Validator struct {
	contract schema.Contract
	meta     []fieldMeta
}

// New compiles a validator for the given contract.
func New(contract schema.Contract) *Validator {
	v := &Validator{contract: contract}
	v.meta = make([]fieldMeta, 0, len(contract.Fields))
	for _, f := range contract.Fields {
		m := fieldMeta{
			name:     f.Name,
			kind:     normalizeKind(f.Type),
			required: f.Required,
			layout:   f.Layout,
		}
		if len(f.Enum) > 0 {
			m.enumSet = make(map[string]struct{}, len(f.Enum))
			for _, s := range f.Enum {
				m.enumSet[s] = struct{}{}
			}
			m.enumList = append(m.enumList, f.Enum...)
		}
		v.meta = append(v.meta, m)
	}
	return v
}

// ForRecordType builds a validator for the raw source schema of t.
func ForRecordType(t schema.RecordType) (*Validator, error) {
	contract, err := schema.SourceContract(t)
	if err != nil {
		return nil, err
	}
	return New(contract), nil
}

// Validate checks every row of the batch and returns all violations found.
// It returns an error only for structural misuse (empty batch).
func (v *Validator) Validate(batch []records.Record) (Result, error) {
	if len(batch) == 0 {
		return Result{}, fmt.Errorf("validate: empty batch for contract %q", v.contract.Name)
	}

	var res Result
	for i, rec := range batch {
		v.validateRow(i, rec, &res)
	}
	return res, nil
}

func (v *Validator) validateRow(row int, rec records.Record, res *Result) {
	for i := range v.meta {
		fm := &v.meta[i]
		val, exists := rec[fm.name]

		empty := !exists || val == nil || (isString(val) && val.(string) == "")
		if empty {
			if fm.required {
				res.Violations = append(res.Violations, Violation{
					Row: row, Column: fm.name, Reason: "required column missing",
				})
			}
			continue
		}

		if reason := checkKind(fm, val); reason != "" {
			res.Violations = append(res.Violations, Violation{Row: row, Column: fm.name, Reason: reason})
			continue
		}

		if fm.enumSet != nil {
			s := records.AsString(val)
			if _, ok := fm.enumSet[s]; !ok {
				res.Violations = append(res.Violations, Violation{
					Row: row, Column: fm.name,
					Reason: fmt.Sprintf("%q not in allowed set %v", s, fm.enumList),
				})
			}
		}
	}
}

// checkKind returns a reason string when val does not conform to the field's
// declared type, or "" when it does.
func checkKind(fm *fieldMeta, val any) string {
	switch fm.kind {
	case "int":
		switch t := val.(type) {
		case int, int32, int64:
		case float64:
			if t != float64(int64(t)) {
				return fmt.Sprintf("%v has a fractional part, not an int", t)
			}
		case string:
			if _, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err != nil {
				return fmt.Sprintf("%q not parseable as int", t)
			}
		default:
			return fmt.Sprintf("type %T not int-convertible", t)
		}

	case "float":
		switch t := val.(type) {
		case float32, float64, int, int32, int64:
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err != nil {
				return fmt.Sprintf("%q not parseable as float", t)
			}
		default:
			return fmt.Sprintf("type %T not float-convertible", t)
		}

	case "bool":
		switch t := val.(type) {
		case bool:
		case int, int64:
		case string:
			s := strings.ToLower(strings.TrimSpace(t))
			if _, err := strconv.ParseBool(s); err != nil {
				return fmt.Sprintf("%q not a recognized boolean", t)
			}
		default:
			return fmt.Sprintf("type %T not bool-convertible", t)
		}

	case "date":
		switch t := val.(type) {
		case time.Time:
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				return ""
			}
			if !parseAnyDate(s, fm.layout) {
				return fmt.Sprintf("invalid date %q", s)
			}
		default:
			return fmt.Sprintf("type %T not date-convertible", t)
		}

	case "timeofday":
		switch t := val.(type) {
		case time.Time:
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				return ""
			}
			if !parseClock(s) {
				return fmt.Sprintf("invalid time of day %q", s)
			}
		default:
			return fmt.Sprintf("type %T not time-of-day-convertible", t)
		}

	case "text", "string", "":
		// accept anything
	}
	return ""
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// parseAnyDate attempts (in order): field layout, ISO date, RFC 3339.
func parseAnyDate(s, fieldLayout string) bool {
	if fieldLayout != "" {
		if _, err := time.Parse(fieldLayout, s); err == nil {
			return true
		}
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return true
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	return false
}

func parseClock(s string) bool {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// normalizeKind maps contract field types onto the validator's kind switch.
// Database-ish aliases (bigint, integer, boolean, timestamp, ...) are accepted.
func normalizeKind(t string) string {
	s := strings.ToLower(t)
	switch s {
	case "bigint", "int8", "integer", "int4", "int2", "int":
		return "int"
	case "float", "float8", "float4", "double", "real", "numeric", "decimal":
		return "float"
	case "boolean", "bool":
		return "bool"
	case "date", "timestamp", "timestamptz", "datetime":
		return "date"
	case "timeofday", "time":
		return "timeofday"
	case "text", "string":
		return "string"
	default:
		return s
	}
}
