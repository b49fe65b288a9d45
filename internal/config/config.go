// Package config loads and validates the JSON pipeline configuration for the
// shopdw loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// Pipeline is the top-level config document.
type Pipeline struct {
	Job     string      `json:"job"`
	Source  Source      `json:"source"`
	Storage Storage     `json:"storage"`
	Load    LoadOptions `json:"load"`
	Metrics Metrics     `json:"metrics"`
}

type Source struct {
	// Kind selects the feed: "http" or "file".
	Kind string      `json:"kind"`
	HTTP *HTTPSource `json:"http,omitempty"`
	File *FileSource `json:"file,omitempty"`
}

type HTTPSource struct {
	URL string `json:"url"`

	// TimeoutSeconds bounds the whole fetch. Zero means 30.
	TimeoutSeconds int `json:"timeout_seconds"`
}

type FileSource struct {
	Path string `json:"path"`

	// Comma is the CSV field separator. Empty means ",".
	Comma string `json:"comma,omitempty"`
}

type Storage struct {
	// Kind selects the backend: "postgres" | "mssql" | "sqlite".
	Kind string `json:"kind"`

	// DSN supports ${ENV_VAR} expansion so credentials stay out of the
	// config file.
	DSN string `json:"dsn"`
}

type LoadOptions struct {
	BatchSize int `json:"batch_size"`

	// RejectTolerance aborts the run when more records are rejected.
	// Negative means unlimited; zero means any reject aborts.
	RejectTolerance int `json:"reject_tolerance"`

	SkipIngested bool `json:"skip_ingested"`
}

type Metrics struct {
	// Backend is "datadog" or empty (disabled).
	Backend string   `json:"backend"`
	JobName string   `json:"job_name"`
	Tags    []string `json:"tags"`

	FlushEverySeconds int `json:"flush_every_seconds"`
}

// Load reads, parses and env-expands a pipeline config. Unknown fields are
// rejected so typos fail loudly instead of silently configuring nothing.
func Load(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	var cfg Pipeline
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)
	return &cfg, nil
}

// Issue is one validation finding. Error-severity issues block a run;
// warnings print and continue.
type Issue struct {
	Severity string // "error" | "warning"
	Msg      string
}

func (i Issue) String() string { return i.Severity + ": " + i.Msg }

// Validate checks the pipeline config and returns every finding, not just
// the first, so a -validate run fixes a config in one pass.
func Validate(cfg *Pipeline) []Issue {
	var issues []Issue
	errf := func(format string, v ...any) {
		issues = append(issues, Issue{Severity: "error", Msg: fmt.Sprintf(format, v...)})
	}
	warnf := func(format string, v ...any) {
		issues = append(issues, Issue{Severity: "warning", Msg: fmt.Sprintf(format, v...)})
	}

	if cfg.Job == "" {
		warnf("job is empty; logs and metrics will be harder to attribute")
	}

	switch cfg.Source.Kind {
	case "http":
		if cfg.Source.HTTP == nil || cfg.Source.HTTP.URL == "" {
			errf("source.kind=http requires source.http.url")
		}
	case "file":
		if cfg.Source.File == nil || cfg.Source.File.Path == "" {
			errf("source.kind=file requires source.file.path")
		}
		if cfg.Source.File != nil {
			if c := cfg.Source.File.Comma; c != "" && utf8.RuneCountInString(c) != 1 {
				errf("source.file.comma must be a single character, got %q", c)
			}
		}
	case "":
		errf("source.kind must be set")
	default:
		errf("unknown source.kind=%q (want http or file)", cfg.Source.Kind)
	}

	switch cfg.Storage.Kind {
	case "postgres", "mssql", "sqlite":
	case "":
		errf("storage.kind must be set")
	default:
		errf("unknown storage.kind=%q (want postgres, mssql or sqlite)", cfg.Storage.Kind)
	}
	if cfg.Storage.Kind != "" && cfg.Storage.DSN == "" {
		errf("storage.dsn must be set")
	}
	if strings.Contains(cfg.Storage.DSN, "${") {
		warnf("storage.dsn still contains ${...} after env expansion; is the variable exported?")
	}

	if cfg.Load.BatchSize < 0 {
		errf("load.batch_size must not be negative")
	}

	switch cfg.Metrics.Backend {
	case "", "datadog":
	default:
		errf("unknown metrics.backend=%q (want datadog or empty)", cfg.Metrics.Backend)
	}

	return issues
}

// HasErrors reports whether any issue is error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == "error" {
			return true
		}
	}
	return false
}
