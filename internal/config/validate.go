// Lightweight linter for Job values. It performs static checks over a decoded
// Job and returns a list of issues (errors and warnings) that callers can
// surface in the CLI or tests.
package config

import (
	"fmt"
	"strings"
	"time"

	"helperetl/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding worth surfacing that does not
	// necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Job.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "load.max_batch_rows"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue in the slice is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateJob performs static validation of a Job. It does not mutate the
// job; callers decide whether to treat warnings as fatal.
func ValidateJob(j Job) []Issue {
	var issues []Issue

	if strings.TrimSpace(j.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics for the run",
		})
	}
	if !schema.RecordType(j.RecordType).Valid() {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "record_type",
			Message:  fmt.Sprintf("unknown record type %q; expected subscription or appointment", j.RecordType),
		})
	}
	if j.AsOf != "" {
		if _, err := time.Parse(time.RFC3339, j.AsOf); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "as_of",
				Message:  fmt.Sprintf("as_of must be RFC 3339: %v", err),
			})
		}
	}
	for col, places := range j.Rounding {
		if places < 0 || places > 12 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "rounding." + col,
				Message:  fmt.Sprintf("decimal places %d out of range [0,12]", places),
			})
		}
	}

	issues = append(issues, validateSource(j.Source)...)
	issues = append(issues, validateStorage(j.Storage)...)
	issues = append(issues, validateLoad(j.Load)...)
	issues = append(issues, validateMetrics(j.Metrics)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
		return issues
	}
	if s.Kind != "file" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; ensure a matching implementation exists", s.Kind),
		})
	}
	if s.Kind == "file" && strings.TrimSpace(s.File.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.file.path",
			Message:  "file source requires a non-empty path",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
		return issues
	}

	switch s.Kind {
	case "bigquery":
		for path, val := range map[string]string{
			"storage.bigquery.project": s.BigQuery.Project,
			"storage.bigquery.dataset": s.BigQuery.Dataset,
			"storage.bigquery.table":   s.BigQuery.Table,
		} {
			if strings.TrimSpace(val) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path,
					Message:  "required for the bigquery backend",
				})
			}
		}
	case "postgres", "sqlite":
		if strings.TrimSpace(s.DB.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.db.dsn",
				Message:  fmt.Sprintf("required for the %s backend", s.Kind),
			})
		}
		if strings.TrimSpace(s.DB.Table) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.db.table",
				Message:  fmt.Sprintf("required for the %s backend", s.Kind),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	return issues
}

func validateLoad(l Load) []Issue {
	var issues []Issue

	if l.MaxBatchRows < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "load.max_batch_rows",
			Message:  "must not be negative",
		})
	}
	if l.MaxBatchRows > 50_000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "load.max_batch_rows",
			Message:  fmt.Sprintf("%d rows per load call is large; consider a smaller batch", l.MaxBatchRows),
		})
	}
	if l.RetryMaxAttempts < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "load.retry_max_attempts",
			Message:  "must not be negative",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "prometheus", "pushgateway":
		// An empty URL is not fatal: the CLI falls back to PUSHGATEWAY_URL
		// and then the local default gateway.
		if strings.TrimSpace(m.PushURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.push_url",
				Message:  "empty; the PUSHGATEWAY_URL environment variable or the default gateway will be used",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q", m.Backend),
		})
	}
	return issues
}
