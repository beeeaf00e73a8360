package rules

import (
	"time"

	"helperetl/internal/schema"
	"helperetl/pkg/records"
)

// An appointment's multivisit columns depend on the other appointments the
// same master account has on the same date. Those group statistics are
// precomputed once per batch by buildVisitGroups and handed to the rules as
// read-only reference data, which keeps every rule a pure per-row function
// and the row loop embarrassingly parallel.

const statusCompleted = 1

// visitKey identifies a visit group: one account on one calendar date.
type visitKey struct {
	MasterAccountID int64
	Date            string // calendar date, formatted 2006-01-02
}

// visitStats are the per-group aggregates the multivisit rules read.
type visitStats struct {
	CompletedCount    int
	CompletedDuration float64 // sum of duration over completed visits
	SpanMinutes       float64 // latest time_out - earliest time_in, completed visits only
	earliestIn        time.Time
	latestOut         time.Time
}

// visitGroups is the appointment set's Reference implementation.
type visitGroups map[visitKey]visitStats

func appointmentSet() *Set {
	return &Set{
		recordType: schema.Appointment,
		key:        "appointment_id",
		buildRef:   func(batch []records.Record) Reference { return buildVisitGroups(batch) },
		rules: []Rule{
			isErrorRule(),
			minutesOutlierOutRule(),
			fillInErrorsRule(),
			multivisitRule(),
			multivisitCountRule(),
			multivisitDurationRule(),
			multivisitCrmTimeRule(),
			multivisitAdjustedMinutesRule(),
			driveTimeRule(),
			totalTimeRule(),
			passthrough("client_id", "text"),
			passthrough("crm_source", "text"),
			passthrough("record_created_at", "date"),
		},
	}
}

// buildVisitGroups aggregates completed visits per (master_account_id,
// appointment_date). Rows missing either key column simply contribute to no
// group; their multivisit rules later yield null-with-reason.
func buildVisitGroups(batch []records.Record) visitGroups {
	groups := make(visitGroups)
	for _, rec := range batch {
		key, ok := visitKeyOf(rec)
		if !ok {
			continue
		}
		status, ok := rec.Int64("status")
		if !ok || status != statusCompleted {
			continue
		}

		stats := groups[key]
		stats.CompletedCount++
		if d, ok := rec.Float64("duration"); ok {
			stats.CompletedDuration += d
		}
		if in, ok := rec.Time("time_in"); ok {
			if stats.earliestIn.IsZero() || in.Before(stats.earliestIn) {
				stats.earliestIn = in
			}
		}
		if out, ok := rec.Time("time_out"); ok {
			if stats.latestOut.IsZero() || out.After(stats.latestOut) {
				stats.latestOut = out
			}
		}
		if !stats.earliestIn.IsZero() && !stats.latestOut.IsZero() {
			stats.SpanMinutes = stats.latestOut.Sub(stats.earliestIn).Minutes()
			if stats.SpanMinutes < 0 {
				stats.SpanMinutes = 0
			}
		}
		groups[key] = stats
	}
	return groups
}

func visitKeyOf(rec records.Record) (visitKey, bool) {
	account, ok := rec.Int64("master_account_id")
	if !ok {
		return visitKey{}, false
	}
	date, ok := rec.Time("appointment_date")
	if !ok {
		return visitKey{}, false
	}
	return visitKey{MasterAccountID: account, Date: date.Format("2006-01-02")}, true
}

// groupOf resolves the visit group for a record from the context reference.
func groupOf(rec records.Record, ctx *Context) (visitStats, string) {
	groups, ok := ctx.Ref.(visitGroups)
	if !ok {
		return visitStats{}, "visit groups not built for this batch"
	}
	key, ok := visitKeyOf(rec)
	if !ok {
		return visitStats{}, "master_account_id or appointment_date absent"
	}
	return groups[key], ""
}

// is_error: a completed visit recorded with zero CRM minutes is a data-entry
// error and gets its minutes backfilled downstream.
func isErrorRule() Rule {
	return Rule{
		Column: "is_error",
		Type:   "bool",
		Inputs: []string{"crm_minutes"},
		Fn: func(rec records.Record, _ *Context) Result {
			crm, ok := rec.Float64("crm_minutes")
			if !ok {
				return NA("crm_minutes absent or not numeric")
			}
			return Ok(crm == 0)
		},
	}
}

// minutes_outlier_out: recorded CRM minutes clamped into the plausible band
// [0.25×duration, 2×duration] for completed visits, zero otherwise.
func minutesOutlierOutRule() Rule {
	return Rule{
		Column: "minutes_outlier_out",
		Type:   "float",
		Inputs: []string{"status", "duration", "crm_minutes"},
		Fn: func(rec records.Record, _ *Context) Result {
			status, ok := rec.Int64("status")
			if !ok {
				return NA("status absent or not an int")
			}
			if status != statusCompleted {
				return Ok(0.0)
			}
			duration, ok := rec.Float64("duration")
			if !ok {
				return NA("duration absent or not numeric")
			}
			crm, ok := rec.Float64("crm_minutes")
			if !ok {
				return NA("crm_minutes absent or not numeric")
			}
			return Ok(clamp(crm, duration*0.25, duration*2))
		},
	}
}

// fill_in_errors: erroneous rows fall back to the service type's average
// minutes, everything else keeps the outlier-clamped value.
func fillInErrorsRule() Rule {
	return Rule{
		Column: "fill_in_errors",
		Type:   "float",
		Inputs: []string{"status", "duration", "crm_minutes", "average_minutes"},
		Fn: func(rec records.Record, _ *Context) Result {
			crm, ok := rec.Float64("crm_minutes")
			if !ok {
				return NA("crm_minutes absent or not numeric")
			}
			if crm == 0 {
				avg, ok := rec.Float64("average_minutes")
				if !ok {
					return NA("average_minutes absent or not numeric")
				}
				return Ok(avg)
			}
			return outlierOut(rec)
		},
	}
}

func multivisitRule() Rule {
	return Rule{
		Column: "multivisit",
		Type:   "bool",
		Inputs: []string{"master_account_id", "appointment_date", "status"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}
			return Ok(stats.CompletedCount > 1)
		},
	}
}

func multivisitCountRule() Rule {
	return Rule{
		Column: "multivisit_count",
		Type:   "int",
		Inputs: []string{"master_account_id", "appointment_date", "status"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}
			return Ok(int64(stats.CompletedCount))
		},
	}
}

func multivisitDurationRule() Rule {
	return Rule{
		Column: "multivisit_duration",
		Type:   "float",
		Inputs: []string{"master_account_id", "appointment_date", "status", "duration"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}
			return Ok(stats.CompletedDuration)
		},
	}
}

// multivisit_crm_time: the group's on-site span (earliest entry to latest
// exit) clamped into the same plausible band used for single visits. Zero for
// single-visit groups and non-completed rows.
func multivisitCrmTimeRule() Rule {
	return Rule{
		Column: "multivisit_crm_time",
		Type:   "float",
		Inputs: []string{"master_account_id", "appointment_date", "status", "duration", "time_in", "time_out"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}
			status, ok := rec.Int64("status")
			if !ok {
				return NA("status absent or not an int")
			}
			if stats.CompletedCount <= 1 || status != statusCompleted {
				return Ok(0.0)
			}
			duration, ok := rec.Float64("duration")
			if !ok {
				return NA("duration absent or not numeric")
			}
			return Ok(clamp(stats.SpanMinutes, duration*0.25, duration*2))
		},
	}
}

// multivisit_adjusted_minutes: multivisit rows split the group's CRM time
// evenly; single visits keep their error-corrected minutes.
func multivisitAdjustedMinutesRule() Rule {
	return Rule{
		Column: "multivisit_adjusted_minutes",
		Type:   "float",
		Inputs: []string{"master_account_id", "appointment_date", "status", "duration", "crm_minutes", "average_minutes", "time_in", "time_out"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}
			if stats.CompletedCount > 1 {
				status, ok := rec.Int64("status")
				if !ok {
					return NA("status absent or not an int")
				}
				duration, ok := rec.Float64("duration")
				if !ok {
					return NA("duration absent or not numeric")
				}
				crmTime := 0.0
				if status == statusCompleted {
					crmTime = clamp(stats.SpanMinutes, duration*0.25, duration*2)
				}
				return Ok(crmTime / float64(stats.CompletedCount))
			}
			// Single visit: same value as fill_in_errors.
			crm, ok := rec.Float64("crm_minutes")
			if !ok {
				return NA("crm_minutes absent or not numeric")
			}
			if crm == 0 {
				avg, ok := rec.Float64("average_minutes")
				if !ok {
					return NA("average_minutes absent or not numeric")
				}
				return Ok(avg)
			}
			return outlierOut(rec)
		},
	}
}

// drive_time: the paid drive allowance split across the day's visits. A group
// with no completed visits has nothing to split over.
func driveTimeRule() Rule {
	return Rule{
		Column: "drive_time",
		Type:   "float",
		Inputs: []string{"master_account_id", "appointment_date", "value"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}
			value, ok := rec.Float64("value")
			if !ok {
				return NA("value absent or not numeric")
			}
			if stats.CompletedCount == 0 {
				return NA("no completed visits in group")
			}
			return Ok(value / float64(stats.CompletedCount))
		},
	}
}

// total_time: drive time plus adjusted on-site minutes, absent parts counted
// as zero, rounded half-to-even to two places.
func totalTimeRule() Rule {
	def := &Rounding{Places: 2}
	return Rule{
		Column: "total_time",
		Type:   "float",
		Inputs: []string{"master_account_id", "appointment_date", "status", "duration", "crm_minutes", "average_minutes", "value", "time_in", "time_out"},
		Fn: func(rec records.Record, ctx *Context) Result {
			stats, reason := groupOf(rec, ctx)
			if reason != "" {
				return NA(reason)
			}

			total := 0.0
			if value, ok := rec.Float64("value"); ok && stats.CompletedCount > 0 {
				total += value / float64(stats.CompletedCount)
			}

			if adj := multivisitAdjustedMinutesRule().Fn(rec, ctx); !adj.Null {
				if f, ok := adj.Value.(float64); ok {
					total += f
				}
			}
			return Ok(roundFor(ctx, "total_time", def, total))
		},
	}
}

// outlierOut mirrors minutes_outlier_out for reuse inside sibling rules; it
// reads only raw source columns, so rule independence holds.
func outlierOut(rec records.Record) Result {
	status, ok := rec.Int64("status")
	if !ok {
		return NA("status absent or not an int")
	}
	if status != statusCompleted {
		return Ok(0.0)
	}
	duration, ok := rec.Float64("duration")
	if !ok {
		return NA("duration absent or not numeric")
	}
	crm, ok := rec.Float64("crm_minutes")
	if !ok {
		return NA("crm_minutes absent or not numeric")
	}
	return Ok(clamp(crm, duration*0.25, duration*2))
}

func clamp(x, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
