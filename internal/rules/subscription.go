package rules

import (
	"time"

	"helperetl/internal/schema"
	"helperetl/pkg/records"
)

// Subscription helper columns. All rules here are row-local; the subscription
// set needs no batch-level reference data.
func subscriptionSet() *Set {
	return &Set{
		recordType: schema.Subscription,
		key:        "subscription_id",
		rules: []Rule{
			constrainedTimeRule(),
			isActiveFlagRule(),
			daysActiveRule(),
			daysToEndRule(),
			monthlyValueRule(),
			passthrough("client_id", "text"),
			passthrough("crm_source", "text"),
			passthrough("record_created_at", "date"),
		},
	}
}

// constrained_time: the customer restricted service to particular days and a
// daytime window. True only when all three preferences carry a real value.
func constrainedTimeRule() Rule {
	return Rule{
		Column: "constrained_time",
		Type:   "bool",
		Inputs: []string{"preferred_days", "preferred_start", "preferred_end"},
		Fn: func(rec records.Record, _ *Context) Result {
			days, ok := rec.Int64("preferred_days")
			if !ok {
				return NA("preferred_days absent or not an int")
			}
			start, ok := rec.MinuteOfDay("preferred_start")
			if !ok {
				return NA("preferred_start absent or not a time of day")
			}
			end, ok := rec.MinuteOfDay("preferred_end")
			if !ok {
				return NA("preferred_end absent or not a time of day")
			}
			return Ok(days > 0 && start > 0 && end > 0)
		},
	}
}

func isActiveFlagRule() Rule {
	return Rule{
		Column: "is_active_flag",
		Type:   "bool",
		Inputs: []string{"status"},
		Fn: func(rec records.Record, _ *Context) Result {
			status, ok := rec.Int64("status")
			if !ok {
				return NA("status absent or not an int")
			}
			return Ok(status == 1)
		},
	}
}

// days_active: whole days from start_date to the run's as-of timestamp.
// Computed against the injected as-of, never the wall clock, so a batch is
// internally consistent regardless of processing time.
func daysActiveRule() Rule {
	return Rule{
		Column: "days_active",
		Type:   "int",
		Inputs: []string{"start_date"},
		Fn: func(rec records.Record, ctx *Context) Result {
			start, ok := rec.Time("start_date")
			if !ok {
				return NA("start_date absent or unparseable")
			}
			return Ok(wholeDays(start, ctx.AsOf))
		},
	}
}

// days_to_end: whole days from as-of until adj_end_date. Subscriptions still
// active carry the far-future sentinel end date upstream, which simply yields
// a large positive value here.
func daysToEndRule() Rule {
	return Rule{
		Column: "days_to_end",
		Type:   "int",
		Inputs: []string{"adj_end_date"},
		Fn: func(rec records.Record, ctx *Context) Result {
			end, ok := rec.Time("adj_end_date")
			if !ok {
				return NA("adj_end_date absent or unparseable")
			}
			return Ok(wholeDays(ctx.AsOf, end))
		},
	}
}

// monthly_value: contract_value spread over the contract term, rounded
// half-to-even to cents. A zero or missing term cannot be spread.
func monthlyValueRule() Rule {
	def := &Rounding{Places: 2}
	return Rule{
		Column: "monthly_value",
		Type:   "float",
		Inputs: []string{"contract_value", "term_months"},
		Fn: func(rec records.Record, ctx *Context) Result {
			value, ok := rec.Float64("contract_value")
			if !ok {
				return NA("contract_value absent or not numeric")
			}
			months, ok := rec.Int64("term_months")
			if !ok {
				return NA("term_months absent or not an int")
			}
			if months == 0 {
				return NA("term_months is zero")
			}
			return Ok(roundFor(ctx, "monthly_value", def, value/float64(months)))
		},
	}
}

// wholeDays returns the number of complete 24h days from a to b, negative
// when b precedes a.
func wholeDays(a, b time.Time) int64 {
	return int64(b.Sub(a).Hours() / 24)
}
