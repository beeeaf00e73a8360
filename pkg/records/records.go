// Package records defines the row representation shared by every stage of the
// helper-column pipeline: a Record is a column-name → value map as read from
// the warehouse, plus typed accessors that tolerate the value shapes a
// warehouse driver can hand back (native types, strings, json numbers).
package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one raw or derived row. Raw records are read-only by convention:
// stages that need to change values must work on a copy.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are shared; only the map
// itself is new.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Has reports whether the column exists with a non-nil value.
func (r Record) Has(col string) bool {
	v, ok := r[col]
	return ok && v != nil
}

// String returns the column as a string. Empty string counts as absent.
func (r Record) String(col string) (string, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", false
	}
	s := AsString(v)
	if s == "" {
		return "", false
	}
	return s, true
}

// Int64 returns the column as an int64, accepting native ints, json float64s
// with no fractional part, and numeric strings.
func (r Record) Int64(col string) (int64, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
		return 0, false
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Float64 returns the column as a float64.
func (r Record) Float64(col string) (float64, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Bool returns the column as a bool. Integer 0/1 and the usual string forms
// are accepted.
func (r Record) Bool(col string) (bool, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case float64:
		return t != 0, true
	case string:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(t)))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Time returns the column as a time.Time. Strings are parsed with the given
// layouts in order, then RFC 3339 and the ISO date as fallbacks.
func (r Record) Time(col string, layouts ...string) (time.Time, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts, true
		}
		if ts, err := time.Parse("2006-01-02", s); err == nil {
			return ts, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// MinuteOfDay returns a time-of-day column as minutes past midnight.
// Accepted forms: time.Time (clock part), "15:04" and "15:04:05" strings.
func (r Record) MinuteOfDay(col string) (int, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.Hour()*60 + t.Minute(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{"15:04:05", "15:04"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.Hour()*60 + ts.Minute(), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// AsString converts common value types to their string form without going
// through fmt for the frequent cases.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
