// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the helper-column pipeline.
//
// It exposes a narrow Backend interface (counters and duration observations)
// behind a pluggable package-level backend that defaults to a no-op, so
// instrumentation calls are always safe even when no real backend is
// configured. Concrete systems (Prometheus Pushgateway, etc.) live in
// subpackages and are installed by the wiring layer.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a latency/duration style value in seconds.
	ObserveDuration(name string, seconds float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)      {}
func (nopBackend) ObserveDuration(string, float64, Labels) {}
func (nopBackend) Flush() error                            { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error { return backend.Flush() }

// RecordStep measures one pipeline stage: latency plus success/failure.
func RecordStep(recordType, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"record_type": recordType,
		"step":        step,
		"status":      status,
	}
	backend.IncCounter("helper_step_total", 1, lbls)
	backend.ObserveDuration("helper_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given record type.
//
// Typical kinds mirror the pipeline report fields:
//   - "succeeded"
//   - "partial"
//   - "failed"
//   - "upserted"
func RecordRows(recordType, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("helper_rows_total", float64(delta), Labels{
		"record_type": recordType,
		"kind":        kind,
	})
}

// RecordBatches increments the per-run load batch counter.
func RecordBatches(recordType string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("helper_load_batches_total", float64(delta), Labels{
		"record_type": recordType,
	})
}
