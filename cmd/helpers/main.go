// Command helpers runs a helper-column job: it reads raw subscription or
// appointment records from the configured source, computes the warehouse
// helper columns, and upserts the results into the configured backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"helperetl/internal/config"
	"helperetl/internal/metrics"
	"helperetl/internal/metrics/prompush"
	"helperetl/internal/pipeline"
	"helperetl/internal/rules"
	"helperetl/internal/run"
	"helperetl/internal/schema"
	"helperetl/internal/source"
	"helperetl/internal/warehouse"

	// register all backends with the warehouse factory.
	// config specifies which to use but we build in support for all of them.
	_ "helperetl/internal/warehouse/all"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
		dryRun            bool
	)

	flag.StringVar(&cfgPath, "config", "configs/jobs/subscription.json", "job config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend (pushgateway, none); overrides config")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "transform every batch but skip the warehouse load")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	job, err := config.LoadFile(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidateJob(job)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	setupMetrics(job, metricsBackendFlg, pushGatewayURLFlg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	asOf, err := job.AsOfTime(time.Now().UTC())
	if err != nil {
		fatalf("%v", err)
	}

	recordType := schema.RecordType(job.RecordType)
	pipe, err := pipeline.New(recordType, pipeline.WithWorkers(job.Runtime.ComputeWorkers))
	if err != nil {
		fatalf("pipeline: %v", err)
	}

	var loader *warehouse.Loader
	if !dryRun {
		repo, err := warehouse.New(ctx, warehouse.Config{
			Kind:       job.Storage.Kind,
			DSN:        job.Storage.DB.DSN,
			Project:    job.Storage.BigQuery.Project,
			Dataset:    job.Storage.BigQuery.Dataset,
			Table:      storageTable(job),
			Columns:    pipe.Columns(),
			KeyColumns: []string{pipe.Contract().Key},
		})
		if err != nil {
			fatalf("warehouse: %v", err)
		}
		defer repo.Close()

		loader, err = warehouse.NewLoader(repo, warehouse.LoaderConfig{
			RecordType:  job.RecordType,
			MaxRows:     job.Load.MaxBatchRows,
			MaxAttempts: job.Load.RetryMaxAttempts,
			BackoffBase: job.RetryBackoff(),
		})
		if err != nil {
			fatalf("loader: %v", err)
		}
	}

	src, err := source.NewFile(job.Source.File.Path, job.Load.MaxBatchRows)
	if err != nil {
		fatalf("source: %v", err)
	}
	defer src.Close()

	runner, err := run.New(pipe, loader)
	if err != nil {
		fatalf("runner: %v", err)
	}

	rounding := make(map[string]rules.Rounding, len(job.Rounding))
	for col, places := range job.Rounding {
		rounding[col] = rules.Rounding{Places: places}
	}

	if *verbose {
		log.Printf("job: name=%s type=%s source=%s storage=%s as_of=%s dry_run=%t",
			job.Job, job.RecordType, job.Source.File.Path, job.Storage.Kind,
			asOf.Format(time.RFC3339), dryRun)
	}

	sum, err := runner.Run(ctx, src, &rules.Context{AsOf: asOf, Rounding: rounding})
	if err != nil {
		log.Printf("summary: %s", sum)
		log.Fatalf("%v", err)
	}
	log.Printf("summary: %s", sum)
}

// storageTable resolves the target table for the configured backend.
func storageTable(job config.Job) string {
	if job.Storage.Kind == "bigquery" {
		return job.Storage.BigQuery.Table
	}
	return job.Storage.DB.Table
}

// setupMetrics wires the metrics backend: flag overrides config, env fills
// the gateway URL. The nop backend stays in place on any failure.
func setupMetrics(job config.Job, backendFlg, gwFlg string, verbose bool) {
	backend := backendFlg
	if backend == "" {
		backend = job.Metrics.Backend
	}

	switch backend {
	case "pushgateway", "prometheus":
		gwURL := gwFlg
		if gwURL == "" {
			gwURL = job.Metrics.PushURL
		}
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		jobName := job.Job
		if jobName == "" {
			jobName = "helper_job"
		}

		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backend, jobName)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backend)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
