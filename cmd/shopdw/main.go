// Command shopdw runs one star-schema warehouse load: fetch the transaction
// feed, resolve dimensions, load facts, rebuild aggregates and refresh
// views.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"shopdw/internal/config"
	"shopdw/internal/metrics"
	"shopdw/internal/metrics/datadog"
	"shopdw/internal/source"
	"shopdw/internal/storage"
	"shopdw/internal/warehouse"

	// register all backends with the storage factory; config selects one.
	_ "shopdw/internal/storage/all"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
		reset             bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend override (datadog, none; empty uses config)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&reset, "reset", false, "drop and recreate the warehouse before loading")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasErrors(issues) {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// Decide metrics backend: flag → config → disabled.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}
	switch backendName {
	case "datadog":
		jobName := cfg.Metrics.JobName
		if jobName == "" {
			jobName = cfg.Job
		}
		tags := cfg.Metrics.Tags
		if env := os.Getenv("METRICS_TAGS"); env != "" {
			tags = append(tags, datadog.ParseTagsCSV(env)...)
		}
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: time.Duration(cfg.Metrics.FlushEverySeconds) * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, tags)
			metrics.SetBackend(b)
			// Close stops the periodic flush loop, then flushes one final time.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()

	store, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer store.Close()

	src, err := buildSource(cfg)
	if err != nil {
		fatalf("%v", err)
	}

	if *verbose {
		log.Printf("pipeline: job=%s source=%s storage=%s", cfg.Job, cfg.Source.Kind, cfg.Storage.Kind)
	}

	engine := warehouse.NewEngine(store, src, log.Default())
	report, err := engine.Run(ctx, warehouse.Options{
		Reset:           reset,
		BatchSize:       cfg.Load.BatchSize,
		RejectTolerance: cfg.Load.RejectTolerance,
		SkipIngested:    cfg.Load.SkipIngested,
	})
	if err != nil {
		if errors.Is(err, source.ErrUnavailable) {
			log.Fatalf("source unavailable, nothing loaded: %v", err)
		}
		log.Fatalf("%v", err)
	}

	printReport(report)
}

func buildSource(cfg *config.Pipeline) (source.Source, error) {
	switch cfg.Source.Kind {
	case "http":
		timeout := 30 * time.Second
		if cfg.Source.HTTP.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.Source.HTTP.TimeoutSeconds) * time.Second
		}
		return &source.HTTPSource{
			URL:    cfg.Source.HTTP.URL,
			Client: &http.Client{Timeout: timeout},
		}, nil
	case "file":
		comma := ','
		if cfg.Source.File.Comma != "" {
			comma, _ = utf8.DecodeRuneInString(cfg.Source.File.Comma)
		}
		return &source.CSVSource{Path: cfg.Source.File.Path, Comma: comma}, nil
	default:
		return nil, fmt.Errorf("unknown source.kind=%q", cfg.Source.Kind)
	}
}

// printReport writes the post-run statistics block with grouped thousands,
// the format downstream runbooks grep for.
func printReport(r *warehouse.LoadReport) {
	p := message.NewPrinter(language.English)

	if r.Skipped {
		p.Printf("run %s: source %s already ingested, skipped\n", r.RunID, r.SourceName)
		return
	}

	p.Printf("run %s: state=%s duration=%s\n", r.RunID, r.State, r.Duration.Truncate(time.Millisecond))
	p.Printf("  processed %d records, inserted %d facts, %d duplicates\n",
		r.Processed, r.FactsInserted, r.Duplicates)

	if len(r.Rejected) > 0 {
		reasons := make([]string, 0, len(r.Rejected))
		for reason := range r.Rejected {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			p.Printf("  rejected %d (%s)\n", r.Rejected[reason], reason)
		}
	}

	tables := make([]string, 0, len(r.TableCounts))
	for name := range r.TableCounts {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		p.Printf("  %-40s %10d rows\n", name, r.TableCounts[name])
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
