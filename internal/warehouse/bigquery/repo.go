// Package bigquery implements a BigQuery-backed warehouse.Repository. Each
// batch is loaded into a staging table via a load job (NDJSON, truncate
// semantics) and merged into the target with a keyed MERGE statement. Load
// jobs avoid the streaming buffer, so a replayed batch merges cleanly.
//
// The staging table is per-target ("<table>_stage") and truncated on every
// load, which assumes a single loader per target table at a time.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"

	"helperetl/internal/warehouse"
)

// Config holds BigQuery repository configuration.
type Config struct {
	Project    string
	Dataset    string
	Table      string
	KeyColumns []string
}

// Repository is a BigQuery-backed warehouse.Repository.
type Repository struct {
	client *bq.Client
	cfg    Config
}

// NewRepository opens a client for cfg.Project. Credentials come from the
// environment (ADC), matching how the cloud function ran.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Project == "" || cfg.Dataset == "" || cfg.Table == "" {
		return nil, fmt.Errorf("bigquery: project, dataset and table must all be set")
	}
	client, err := bq.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("bigquery: client: %w", err)
	}
	return &Repository{client: client, cfg: cfg}, nil
}

// Close closes the client.
func (r *Repository) Close() { _ = r.client.Close() }

// UpsertBatch implements warehouse.Repository.
func (r *Repository) UpsertBatch(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stage := r.cfg.Table + "_stage"
	if err := r.loadStage(ctx, stage, columns, rows); err != nil {
		return 0, err
	}
	if err := r.merge(ctx, stage, columns); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// loadStage runs a truncating load job of the batch into the staging table.
func (r *Repository) loadStage(ctx context.Context, stage string, columns []string, rows [][]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	obj := make(map[string]any, len(columns))
	for _, row := range rows {
		clear(obj)
		for j, c := range columns {
			obj[c] = jsonValue(row[j])
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("bigquery: encode row: %w", err)
		}
	}

	src := bq.NewReaderSource(&buf)
	src.SourceFormat = bq.JSON

	// The target table's schema governs the stage so a load never autodetects
	// a column type that MERGE cannot compare.
	meta, err := r.client.Dataset(r.cfg.Dataset).Table(r.cfg.Table).Metadata(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: target metadata: %w", err)
	}
	src.Schema = meta.Schema

	loader := r.client.Dataset(r.cfg.Dataset).Table(stage).LoaderFrom(src)
	loader.WriteDisposition = bq.WriteTruncate
	loader.CreateDisposition = bq.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: load wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("bigquery: load: %w", err)
	}
	return nil
}

// merge upserts the staged rows into the target keyed on the key columns.
func (r *Repository) merge(ctx context.Context, stage string, columns []string) error {
	keySet := make(map[string]struct{}, len(r.cfg.KeyColumns))
	for _, k := range r.cfg.KeyColumns {
		keySet[k] = struct{}{}
	}

	onTerms := make([]string, 0, len(r.cfg.KeyColumns))
	for _, k := range r.cfg.KeyColumns {
		onTerms = append(onTerms, fmt.Sprintf("T.`%s` = S.`%s`", k, k))
	}
	setTerms := make([]string, 0, len(columns))
	insertCols := make([]string, 0, len(columns))
	insertVals := make([]string, 0, len(columns))
	for _, c := range columns {
		insertCols = append(insertCols, "`"+c+"`")
		insertVals = append(insertVals, "S.`"+c+"`")
		if _, isKey := keySet[c]; isKey {
			continue
		}
		setTerms = append(setTerms, fmt.Sprintf("T.`%s` = S.`%s`", c, c))
	}

	sql := fmt.Sprintf(`MERGE %s T
USING %s S
ON %s
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)`,
		r.tableRef(r.cfg.Table),
		r.tableRef(stage),
		strings.Join(onTerms, " AND "),
		strings.Join(setTerms, ", "),
		strings.Join(insertCols, ", "),
		strings.Join(insertVals, ", "),
	)

	q := r.client.Query(sql)
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: merge job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: merge wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("bigquery: merge: %w", err)
	}
	return nil
}

func (r *Repository) tableRef(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.cfg.Project, r.cfg.Dataset, table)
}

// jsonValue normalizes values for NDJSON so BigQuery parses them into the
// target schema. time.Time becomes RFC 3339; everything else encodes as-is.
func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

func init() {
	warehouse.Register("bigquery", func(ctx context.Context, cfg warehouse.Config) (warehouse.Repository, error) {
		return NewRepository(ctx, Config{
			Project:    cfg.Project,
			Dataset:    cfg.Dataset,
			Table:      cfg.Table,
			KeyColumns: cfg.KeyColumns,
		})
	})
}
