package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"helperetl/internal/metrics"
	"helperetl/internal/rules"
	"helperetl/internal/schema"
	"helperetl/pkg/records"
)

var asOf = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func validSubscription(id int64) records.Record {
	return records.Record{
		"subscription_id":   id,
		"status":            int64(1),
		"preferred_days":    int64(3),
		"preferred_start":   "08:00:00",
		"preferred_end":     "17:00:00",
		"start_date":        "2026-01-01",
		"adj_end_date":      "2026-01-30",
		"contract_value":    100.0,
		"term_months":       int64(3),
		"client_id":         "client-1",
		"crm_source":        "acme",
		"record_created_at": "2026-01-01",
	}
}

func TestTransform_FullBatch(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription)
	if err != nil {
		t.Fatal(err)
	}

	batch := []records.Record{validSubscription(1), validSubscription(2), validSubscription(3)}
	out, rep, err := p.Transform(context.Background(), batch, &rules.Context{AsOf: asOf})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if rep.Stage != StageDone {
		t.Errorf("stage = %s, want %s", rep.Stage, StageDone)
	}
	if rep.Succeeded != 3 || rep.Partial != 0 || rep.Failed != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/0/0", rep.Succeeded, rep.Partial, rep.Failed)
	}
	if len(out) != 3 {
		t.Fatalf("output rows = %d, want 3", len(out))
	}
	if got, ok := out[0].Values.Float64("monthly_value"); !ok || got != 33.33 {
		t.Errorf("monthly_value = %v, want 33.33", got)
	}
}

func TestTransform_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription, WithWorkers(8))
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	batch := make([]records.Record, 0, n)
	for i := range n {
		batch = append(batch, validSubscription(int64(i+1)))
	}
	out, _, err := p.Transform(context.Background(), batch, &rules.Context{AsOf: asOf})
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range out {
		if got, _ := h.ID.(int64); got != int64(i+1) {
			t.Fatalf("row %d: id = %v, want %d", i, h.ID, i+1)
		}
	}
}

func TestTransform_SchemaViolationAbortsBatch(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription)
	if err != nil {
		t.Fatal(err)
	}

	bad := validSubscription(7)
	delete(bad, "status")
	batch := []records.Record{validSubscription(1), bad}

	out, rep, err := p.Transform(context.Background(), batch, &rules.Context{AsOf: asOf})
	if out != nil {
		t.Error("output returned despite schema violation")
	}
	var sv *SchemaViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("error = %v, want SchemaViolationError", err)
	}
	if sv.RecordType != schema.Subscription {
		t.Errorf("record type = %s", sv.RecordType)
	}
	if rep.Stage != StageFailed {
		t.Errorf("stage = %s, want %s", rep.Stage, StageFailed)
	}
}

func TestTransform_PartialRowLoadsWithNulls(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription)
	if err != nil {
		t.Fatal(err)
	}

	rec := validSubscription(5)
	delete(rec, "start_date")
	out, rep, err := p.Transform(context.Background(), []records.Record{rec}, &rules.Context{AsOf: asOf})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Partial != 1 || rep.Succeeded != 0 {
		t.Errorf("counts = succeeded %d partial %d, want 0/1", rep.Succeeded, rep.Partial)
	}
	if rep.NullCounts["days_active"] != 1 {
		t.Errorf("NullCounts[days_active] = %d, want 1", rep.NullCounts["days_active"])
	}
	h := out[0]
	if h.Values["days_active"] != nil {
		t.Errorf("days_active = %v, want nil", h.Values["days_active"])
	}
	// Sibling columns still compute.
	if got := h.Values["is_active_flag"]; got != true {
		t.Errorf("is_active_flag = %v, want true", got)
	}
}

func TestTransform_OutputHasEveryHelperColumn(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription)
	if err != nil {
		t.Fatal(err)
	}

	out, _, err := p.Transform(context.Background(), []records.Record{validSubscription(1)}, &rules.Context{AsOf: asOf})
	if err != nil {
		t.Fatal(err)
	}
	for _, col := range p.Columns() {
		if !out[0].Values.Has(col) {
			t.Errorf("column %q absent from output record", col)
		}
	}
}

func TestTransform_EmptyBatch(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Transform(context.Background(), nil, &rules.Context{AsOf: asOf}); err == nil {
		t.Fatal("empty batch accepted")
	}
}

func TestTransform_CancelledContext(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Subscription)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, rep, err := p.Transform(ctx, []records.Record{validSubscription(1)}, &rules.Context{AsOf: asOf})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if rep.Stage != StageFailed {
		t.Errorf("stage = %s, want %s", rep.Stage, StageFailed)
	}
}

// captureBackend records counter increments keyed by name and labels. Safe
// for concurrent use, so installing it globally does not disturb parallel
// tests.
type captureBackend struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (c *captureBackend) IncCounter(name string, delta float64, l metrics.Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]float64{}
	}
	key := fmt.Sprintf("%s|%s|%s|%s", name, l["record_type"], l["step"], l["status"])
	c.counts[key] += delta
}

func (c *captureBackend) ObserveDuration(string, float64, metrics.Labels) {}
func (c *captureBackend) Flush() error                                    { return nil }

func (c *captureBackend) count(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func TestTransform_ValidateStepCountsSchemaViolationAsFailure(t *testing.T) {
	cb := &captureBackend{}
	metrics.SetBackend(cb)

	p, err := New(schema.Appointment)
	if err != nil {
		t.Fatal(err)
	}

	// Appointment missing every required column fails schema validation.
	_, _, err = p.Transform(context.Background(),
		[]records.Record{{"appointment_id": int64(1)}}, &rules.Context{AsOf: asOf})
	var sv *SchemaViolationError
	if !errors.As(err, &sv) {
		t.Fatalf("error = %v, want SchemaViolationError", err)
	}

	if got := cb.count("helper_step_total|appointment|validate|failure"); got != 1 {
		t.Errorf("validate failure count = %v, want 1", got)
	}
	if got := cb.count("helper_step_total|appointment|validate|success"); got != 0 {
		t.Errorf("validate success count = %v, want 0", got)
	}
}

func TestTransform_AppointmentGroupReference(t *testing.T) {
	t.Parallel()

	p, err := New(schema.Appointment)
	if err != nil {
		t.Fatal(err)
	}

	appt := func(id int64) records.Record {
		return records.Record{
			"appointment_id":    id,
			"master_account_id": int64(100),
			"appointment_date":  "2026-01-05",
			"status":            int64(1),
			"duration":          30.0,
			"crm_minutes":       40.0,
			"value":             50.0,
			"average_minutes":   35.0,
			"time_in":           "2026-01-05T09:00:00Z",
			"time_out":          "2026-01-05T09:45:00Z",
			"client_id":         "client-9",
			"crm_source":        "acme",
			"record_created_at": "2026-01-04",
		}
	}
	batch := []records.Record{appt(1), appt(2)}
	out, rep, err := p.Transform(context.Background(), batch, &rules.Context{AsOf: asOf})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Succeeded != 2 {
		t.Fatalf("succeeded = %d, want 2", rep.Succeeded)
	}
	for _, h := range out {
		if got := h.Values["multivisit"]; got != true {
			t.Errorf("appointment %v: multivisit = %v, want true", h.ID, got)
		}
		if got, ok := h.Values.Int64("multivisit_count"); !ok || got != 2 {
			t.Errorf("appointment %v: multivisit_count = %v, want 2", h.ID, got)
		}
	}
}
