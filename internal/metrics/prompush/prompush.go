// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// It adapts the generic metrics.Backend interface to Prometheus by mapping
// the pipeline's counters onto CounterVec/SummaryVec collectors and pushing
// the registry to a Pushgateway instead of exposing a scrape endpoint. All
// Prometheus-specific dependencies stay in this package so the rest of the
// project can swap backends without changes.
package prompush

import (
	"fmt"

	"helperetl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // helper_step_total
	stepDuration *prometheus.SummaryVec // helper_step_duration_seconds
	rowCounter   *prometheus.CounterVec // helper_rows_total
	batchCounter *prometheus.CounterVec // helper_load_batches_total
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// grouping key; gatewayURL the base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "helperetl"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helper_step_total",
			Help: "Total pipeline step executions, partitioned by record type, step, and status.",
		},
		[]string{"record_type", "step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "helper_step_duration_seconds",
			Help:       "Duration of pipeline steps in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"record_type", "step", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helper_rows_total",
			Help: "Row-level counts per kind (succeeded, partial, failed, upserted).",
		},
		[]string{"record_type", "kind"},
	)
	batchCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helper_load_batches_total",
			Help: "Total load sub-batches flushed to the warehouse.",
		},
		[]string{"record_type"},
	)

	for _, c := range []prometheus.Collector{stepCounter, stepDuration, rowCounter, batchCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
		rowCounter:   rowCounter,
		batchCounter: batchCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "helper_step_total":
		b.stepCounter.WithLabelValues(labels["record_type"], labels["step"], labels["status"]).Add(delta)
	case "helper_rows_total":
		b.rowCounter.WithLabelValues(labels["record_type"], labels["kind"]).Add(delta)
	case "helper_load_batches_total":
		b.batchCounter.WithLabelValues(labels["record_type"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveDuration(name string, seconds float64, labels metrics.Labels) {
	if name != "helper_step_duration_seconds" {
		return
	}
	b.stepDuration.WithLabelValues(labels["record_type"], labels["step"], labels["status"]).Observe(seconds)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
