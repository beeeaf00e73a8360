// Package config defines the JSON-serializable configuration model for a
// helper-column job. It is intentionally small, explicit, and dependency-free
// so that jobs can be loaded from disk and passed through the program without
// additional glue code.
//
// Example (trimmed):
//
//	{
//	  "job": "subscription-helpers",
//	  "record_type": "subscription",
//	  "as_of": "2026-01-10T00:00:00Z",
//	  "source":  { "kind": "file", "file": { "path": "batches/sub.json" } },
//	  "storage": { "kind": "postgres", "db": { "dsn": "...", "table": "public.t_subscription_helper" } },
//	  "load":    { "max_batch_rows": 500, "retry_max_attempts": 5 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Job describes one full helper-column run: which record type to process,
// where raw batches come from, and where computed records land.
type Job struct {
	// Job names the run for logs and metrics labeling.
	Job string `json:"job"`

	// RecordType selects the rule set: "subscription" or "appointment".
	RecordType string `json:"record_type"`

	// AsOf pins the reference instant for date-relative columns. Empty means
	// the wall clock at startup. Reruns that must reproduce a previous load
	// set this explicitly.
	AsOf string `json:"as_of"`

	// Rounding overrides decimal places per output column. Columns not listed
	// keep their built-in default.
	Rounding map[string]int `json:"rounding"`

	Source  Source  `json:"source"`
	Storage Storage `json:"storage"`
	Load    Load    `json:"load"`
	Runtime Runtime `json:"runtime"`
	Metrics Metrics `json:"metrics"`
}

// Source identifies where raw record batches come from.
type Source struct {
	// Kind selects the source implementation. Current value: "file".
	Kind string `json:"kind"`

	// File carries options for the "file" source kind.
	File SourceFile `json:"file"`
}

// SourceFile holds configuration for the "file" source kind: a path to a JSON
// array of records, or an NDJSON stream of records.
type SourceFile struct {
	Path string `json:"path"`
}

// Storage selects the warehouse backend and its connection details.
type Storage struct {
	// Kind selects the backend: "bigquery", "postgres", or "sqlite".
	Kind string `json:"kind"`

	// BigQuery carries options for the "bigquery" kind.
	BigQuery StorageBigQuery `json:"bigquery"`

	// DB carries options for DSN-based kinds (postgres, sqlite).
	DB StorageDB `json:"db"`
}

// StorageBigQuery holds BigQuery connection details.
type StorageBigQuery struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// StorageDB holds connection details for DSN-based backends.
type StorageDB struct {
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

// Load bounds the load path.
type Load struct {
	// MaxBatchRows caps rows per repository call. Zero means the default.
	MaxBatchRows int `json:"max_batch_rows"`

	// RetryMaxAttempts caps total attempts per sub-batch, first try included.
	RetryMaxAttempts int `json:"retry_max_attempts"`

	// RetryBackoffSeconds is the first retry delay; it doubles per attempt.
	RetryBackoffSeconds float64 `json:"retry_backoff_seconds"`
}

// Runtime controls concurrency.
type Runtime struct {
	// ComputeWorkers bounds parallel rule evaluation. Zero means GOMAXPROCS.
	ComputeWorkers int `json:"compute_workers"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none" (default) or "prometheus".
	Backend string `json:"backend"`

	// PushURL is the Pushgateway base URL for the prometheus backend.
	PushURL string `json:"push_url"`
}

// Defaults used when Load fields are zero.
const (
	DefaultMaxBatchRows        = 500
	DefaultRetryMaxAttempts    = 5
	DefaultRetryBackoffSeconds = 2.0
)

// LoadFile reads and decodes a Job from a JSON file. Unknown fields are
// rejected so a typo fails loudly instead of silently using a default.
func LoadFile(path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	var job Job
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	job.applyDefaults()
	return job, nil
}

func (j *Job) applyDefaults() {
	if j.Load.MaxBatchRows <= 0 {
		j.Load.MaxBatchRows = DefaultMaxBatchRows
	}
	if j.Load.RetryMaxAttempts <= 0 {
		j.Load.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if j.Load.RetryBackoffSeconds <= 0 {
		j.Load.RetryBackoffSeconds = DefaultRetryBackoffSeconds
	}
	if j.Metrics.Backend == "" {
		j.Metrics.Backend = "none"
	}
}

// AsOfTime parses AsOf, or returns now when unset.
func (j Job) AsOfTime(now time.Time) (time.Time, error) {
	if j.AsOf == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, j.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: as_of: %w", err)
	}
	return t, nil
}

// RetryBackoff converts the configured seconds to a duration.
func (j Job) RetryBackoff() time.Duration {
	return time.Duration(j.Load.RetryBackoffSeconds * float64(time.Second))
}
