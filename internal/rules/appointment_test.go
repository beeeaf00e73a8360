package rules

import (
	"testing"
	"time"

	"helperetl/internal/schema"
	"helperetl/pkg/records"
)

// appointmentBatch builds a three-visit day for account 100 (two completed,
// one cancelled) plus an unrelated single visit for account 200.
func appointmentBatch() []records.Record {
	day := "2026-01-05"
	return []records.Record{
		{
			"appointment_id":    int64(1),
			"master_account_id": int64(100),
			"appointment_date":  day,
			"status":            int64(1),
			"duration":          30.0,
			"crm_minutes":       45.0,
			"value":             20.0,
			"average_minutes":   35.0,
			"time_in":           "2026-01-05T09:00:00Z",
			"time_out":          "2026-01-05T09:45:00Z",
		},
		{
			"appointment_id":    int64(2),
			"master_account_id": int64(100),
			"appointment_date":  day,
			"status":            int64(1),
			"duration":          30.0,
			"crm_minutes":       0.0, // data-entry error
			"value":             20.0,
			"average_minutes":   35.0,
			"time_in":           "2026-01-05T10:00:00Z",
			"time_out":          "2026-01-05T10:30:00Z",
		},
		{
			"appointment_id":    int64(3),
			"master_account_id": int64(100),
			"appointment_date":  day,
			"status":            int64(2), // cancelled
			"duration":          30.0,
			"crm_minutes":       0.0,
			"value":             20.0,
			"average_minutes":   35.0,
		},
		{
			"appointment_id":    int64(4),
			"master_account_id": int64(200),
			"appointment_date":  day,
			"status":            int64(1),
			"duration":          60.0,
			"crm_minutes":       200.0, // implausibly high, gets clamped
			"value":             18.0,
			"average_minutes":   55.0,
		},
	}
}

func computeAppts(t *testing.T, batch []records.Record) map[int64]HelperRecord {
	t.Helper()
	set, err := ForRecordType(schema.Appointment)
	if err != nil {
		t.Fatalf("ForRecordType: %v", err)
	}
	ctx := &Context{
		AsOf: time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
		Ref:  set.BuildReference(batch),
	}
	out := make(map[int64]HelperRecord, len(batch))
	for _, rec := range batch {
		h, err := set.ComputeRow(rec, ctx)
		if err != nil {
			t.Fatalf("ComputeRow: %v", err)
		}
		out[h.ID.(int64)] = h
	}
	return out
}

func TestAppointment_VisitGroups(t *testing.T) {
	t.Parallel()

	out := computeAppts(t, appointmentBatch())

	// Account 100 has two completed visits on the day: multivisit.
	for _, id := range []int64{1, 2, 3} {
		if got := out[id].Values["multivisit"]; got != true {
			t.Errorf("appt %d multivisit = %v, want true", id, got)
		}
		if got := out[id].Values["multivisit_count"]; got != int64(2) {
			t.Errorf("appt %d multivisit_count = %v, want 2", id, got)
		}
		if got := out[id].Values["multivisit_duration"]; got != 60.0 {
			t.Errorf("appt %d multivisit_duration = %v, want 60", id, got)
		}
	}

	// Account 200: single visit.
	if got := out[4].Values["multivisit"]; got != false {
		t.Errorf("appt 4 multivisit = %v, want false", got)
	}
	if got := out[4].Values["multivisit_count"]; got != int64(1) {
		t.Errorf("appt 4 multivisit_count = %v, want 1", got)
	}
}

func TestAppointment_OutlierClamp(t *testing.T) {
	t.Parallel()

	out := computeAppts(t, appointmentBatch())

	// Appt 1: crm 45 within [7.5, 60] → unchanged.
	if got := out[1].Values["minutes_outlier_out"]; got != 45.0 {
		t.Errorf("appt 1 minutes_outlier_out = %v, want 45", got)
	}
	// Appt 2: crm 0 below 0.25*30 → clamped up to 7.5.
	if got := out[2].Values["minutes_outlier_out"]; got != 7.5 {
		t.Errorf("appt 2 minutes_outlier_out = %v, want 7.5", got)
	}
	// Appt 3: not completed → 0.
	if got := out[3].Values["minutes_outlier_out"]; got != 0.0 {
		t.Errorf("appt 3 minutes_outlier_out = %v, want 0", got)
	}
	// Appt 4: crm 200 above 2*60 → clamped down to 120.
	if got := out[4].Values["minutes_outlier_out"]; got != 120.0 {
		t.Errorf("appt 4 minutes_outlier_out = %v, want 120", got)
	}
}

func TestAppointment_ErrorBackfill(t *testing.T) {
	t.Parallel()

	out := computeAppts(t, appointmentBatch())

	if got := out[1].Values["is_error"]; got != false {
		t.Errorf("appt 1 is_error = %v, want false", got)
	}
	if got := out[2].Values["is_error"]; got != true {
		t.Errorf("appt 2 is_error = %v, want true", got)
	}
	// Erroneous row falls back to average_minutes.
	if got := out[2].Values["fill_in_errors"]; got != 35.0 {
		t.Errorf("appt 2 fill_in_errors = %v, want 35", got)
	}
	// Clean row keeps the clamped value.
	if got := out[1].Values["fill_in_errors"]; got != 45.0 {
		t.Errorf("appt 1 fill_in_errors = %v, want 45", got)
	}
}

func TestAppointment_MultivisitCrmTime(t *testing.T) {
	t.Parallel()

	out := computeAppts(t, appointmentBatch())

	// Group span for account 100: 09:00 → 10:30 = 90 min, clamped to
	// [7.5, 60] per 30-min duration → 60 for completed rows.
	for _, id := range []int64{1, 2} {
		if got := out[id].Values["multivisit_crm_time"]; got != 60.0 {
			t.Errorf("appt %d multivisit_crm_time = %v, want 60", id, got)
		}
		// Split evenly over the 2 completed visits.
		if got := out[id].Values["multivisit_adjusted_minutes"]; got != 30.0 {
			t.Errorf("appt %d multivisit_adjusted_minutes = %v, want 30", id, got)
		}
	}
	// Cancelled row in a multivisit group: zero CRM time, zero share.
	if got := out[3].Values["multivisit_crm_time"]; got != 0.0 {
		t.Errorf("appt 3 multivisit_crm_time = %v, want 0", got)
	}
	if got := out[3].Values["multivisit_adjusted_minutes"]; got != 0.0 {
		t.Errorf("appt 3 multivisit_adjusted_minutes = %v, want 0", got)
	}
}

func TestAppointment_DriveAndTotalTime(t *testing.T) {
	t.Parallel()

	out := computeAppts(t, appointmentBatch())

	// Account 100: value 20 over 2 completed visits.
	if got := out[1].Values["drive_time"]; got != 10.0 {
		t.Errorf("appt 1 drive_time = %v, want 10", got)
	}
	if got := out[1].Values["total_time"]; got != 40.0 {
		t.Errorf("appt 1 total_time = %v, want 40 (10 drive + 30 adjusted)", got)
	}

	// Account 200: single visit keeps fill_in_errors as adjusted minutes.
	if got := out[4].Values["drive_time"]; got != 18.0 {
		t.Errorf("appt 4 drive_time = %v, want 18", got)
	}
	if got := out[4].Values["multivisit_adjusted_minutes"]; got != 120.0 {
		t.Errorf("appt 4 multivisit_adjusted_minutes = %v, want 120", got)
	}
	if got := out[4].Values["total_time"]; got != 138.0 {
		t.Errorf("appt 4 total_time = %v, want 138", got)
	}
}

// TestAppointment_GroupWithNoCompletedVisits: drive_time cannot split over
// zero completed visits and must be null-with-reason, not a failure.
func TestAppointment_GroupWithNoCompletedVisits(t *testing.T) {
	t.Parallel()

	batch := []records.Record{{
		"appointment_id":    int64(9),
		"master_account_id": int64(300),
		"appointment_date":  "2026-01-05",
		"status":            int64(2),
		"duration":          30.0,
		"crm_minutes":       0.0,
		"value":             20.0,
		"average_minutes":   35.0,
	}}
	out := computeAppts(t, batch)

	h := out[9]
	if reason, ok := h.Nulls["drive_time"]; !ok || reason != "no completed visits in group" {
		t.Fatalf("drive_time: want null(no completed visits in group), got %v / %v", h.Values["drive_time"], h.Nulls)
	}
	if h.Failed() {
		t.Fatalf("unexpected failures: %v", h.Failures)
	}
	// total_time still computes: no drive share; the zero-crm row backfills
	// average_minutes through the single-visit branch.
	if got := h.Values["total_time"]; got != 35.0 {
		t.Errorf("total_time = %v, want 35", got)
	}
}

// TestAppointment_MissingGroupKey: without master_account_id every
// group-derived column is null-with-reason while row-local ones compute.
func TestAppointment_MissingGroupKey(t *testing.T) {
	t.Parallel()

	batch := []records.Record{{
		"appointment_id":   int64(11),
		"appointment_date": "2026-01-05",
		"status":           int64(1),
		"duration":         30.0,
		"crm_minutes":      25.0,
		"value":            20.0,
		"average_minutes":  35.0,
	}}
	out := computeAppts(t, batch)

	h := out[11]
	for _, col := range []string{"multivisit", "multivisit_count", "drive_time", "total_time"} {
		if _, ok := h.Nulls[col]; !ok {
			t.Errorf("%s: want null-with-reason, got %v", col, h.Values[col])
		}
	}
	if got := h.Values["is_error"]; got != false {
		t.Errorf("is_error = %v, want false", got)
	}
	if got := h.Values["minutes_outlier_out"]; got != 25.0 {
		t.Errorf("minutes_outlier_out = %v, want 25", got)
	}
}
