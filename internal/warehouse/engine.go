// Package warehouse implements the star-schema load pipeline: dimension
// resolution, fact loading, aggregate rebuild and view refresh, driven by a
// single staged engine run.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shopdw/internal/metrics"
	"shopdw/internal/source"
	"shopdw/internal/storage"
)

// State labels the warehouse lifecycle position reached by a run.
type State string

const (
	StateEmpty           State = "EMPTY"
	StateSchemaReady     State = "SCHEMA_READY"
	StateLoadedUnindexed State = "LOADED_UNINDEXED"
	StateLoadedIndexed   State = "LOADED_INDEXED"
	StateReady           State = "READY"
)

// Logger is the minimal logging seam used by the engine.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Options tune a single load run.
type Options struct {
	// Reset drops and recreates the whole warehouse before the load.
	Reset bool

	// BatchSize caps rows per fact insert statement. Zero means 500.
	BatchSize int

	// RejectTolerance is the maximum number of rejected records a run
	// survives. More than this aborts the run with ErrTooManyRejects
	// before anything is committed. Negative means unlimited.
	RejectTolerance int

	// SkipIngested short-circuits a run whose source artifact already has
	// an ingest marker.
	SkipIngested bool
}

// LoadReport summarizes one engine run.
type LoadReport struct {
	RunID      string
	SourceName string

	// Skipped is set when the source was already ingested and SkipIngested
	// was on; nothing was written.
	Skipped bool

	Processed     int
	FactsInserted int64
	Duplicates    int64
	Rejected      map[string]int

	AggregateRows map[string]int64
	TableCounts   map[string]int64

	State    State
	Duration time.Duration
}

func (r *LoadReport) totalRejected() int {
	n := 0
	for _, c := range r.Rejected {
		n += c
	}
	return n
}

// Engine runs one star-schema load end to end.
type Engine struct {
	Store  storage.Store
	Source source.Source
	Logger Logger

	// test seams
	now      func() time.Time
	newRunID func() string
}

func NewEngine(store storage.Store, src source.Source, logger Logger) *Engine {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Engine{
		Store:    store,
		Source:   src,
		Logger:   logger,
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
}

// Run executes the full pipeline: schema ensure/verify, fetch, dimension
// resolution, fact load inside one transaction with index cycling, aggregate
// rebuild, view refresh and ingest marking. A failure after BeginLoad rolls
// everything back and leaves the previous load intact.
func (e *Engine) Run(ctx context.Context, opts Options) (*LoadReport, error) {
	start := e.now()
	report := &LoadReport{
		RunID:         e.newRunID(),
		Rejected:      map[string]int{},
		AggregateRows: map[string]int64{},
		TableCounts:   map[string]int64{},
		State:         StateEmpty,
	}
	schema := StarSchema()

	// Schema stage. Reset is explicit and destructive; the normal path only
	// creates what is missing and verifies structure.
	stage := e.now()
	if opts.Reset {
		if err := e.Store.ResetSchema(ctx, schema); err != nil {
			return report, fmt.Errorf("reset schema: %w", err)
		}
	} else {
		if err := e.Store.EnsureSchema(ctx, schema); err != nil {
			return report, fmt.Errorf("ensure schema: %w", err)
		}
	}
	if err := e.Store.VerifySchema(ctx, schema); err != nil {
		return report, fmt.Errorf("verify schema: %w", err)
	}
	report.State = StateSchemaReady
	e.stageDone(report, "schema", stage)

	// Extract stage.
	stage = e.now()
	batch, err := e.Source.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch source: %w", err)
	}
	report.SourceName = batch.Name
	e.stageDone(report, "extract", stage)

	if opts.SkipIngested && batch.Name != "" {
		done, err := e.Store.SourceIngested(ctx, batch.Name)
		if err != nil {
			return report, fmt.Errorf("check ingest marker: %w", err)
		}
		if done {
			report.Skipped = true
			report.State = StateReady
			report.Duration = e.now().Sub(start)
			e.Logger.Printf("run=%s source=%s already ingested, skipping", report.RunID, batch.Name)
			return report, nil
		}
	}

	// Transform stage: validate every record, bucket the failures.
	stage = e.now()
	if len(batch.Rejects) > 0 {
		report.Rejected[ReasonMalformed] += len(batch.Rejects)
	}
	for _, rej := range batch.Rejects {
		e.Logger.Printf("run=%s reject line=%d reason=%s err=%v", report.RunID, rej.Line, ReasonMalformed, rej.Err)
	}

	seenAt := e.now().UTC()
	res := newResolver()
	var ready []*prepared
	for _, rec := range batch.Records {
		p, rerr := prepare(rec)
		if rerr != nil {
			report.Rejected[rerr.Reason]++
			e.Logger.Printf("run=%s reject reason=%s err=%v", report.RunID, rerr.Reason, rerr)
			continue
		}
		res.observe(p, seenAt)
		ready = append(ready, p)
	}
	report.Processed = len(batch.Records) + len(batch.Rejects)
	if err := e.checkTolerance(report, opts); err != nil {
		return report, err
	}
	e.stageDone(report, "transform", stage)

	// Dimension stage happens outside the load transaction: every write is
	// an idempotent conflict-ignoring insert, so a later failure leaves
	// nothing inconsistent behind.
	stage = e.now()
	km, err := res.flush(ctx, e.Store, seenAt)
	if err != nil {
		return report, fmt.Errorf("dimensions: %w", err)
	}
	e.stageDone(report, "dimensions", stage)

	rows := make([][]any, 0, len(ready))
	for _, p := range ready {
		pk, ck, stk, suk, rerr := km.lookup(p)
		if rerr != nil {
			report.Rejected[rerr.Reason]++
			e.Logger.Printf("run=%s reject reason=%s err=%v", report.RunID, rerr.Reason, rerr)
			continue
		}
		rows = append(rows, p.factRow(pk, ck, stk, suk))
	}
	if err := e.checkTolerance(report, opts); err != nil {
		return report, err
	}

	// Load stage: one transaction covers fact insert, index cycling,
	// aggregate rebuild, view refresh and the ingest marker.
	stage = e.now()
	tx, err := e.Store.BeginLoad(ctx)
	if err != nil {
		return report, fmt.Errorf("begin load: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := tx.DropIndexes(ctx, schema.Indexes); err != nil {
		return report, fmt.Errorf("drop indexes: %w", err)
	}
	report.State = StateLoadedUnindexed

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	for off := 0; off < len(rows); off += batchSize {
		end := off + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := tx.InsertFactRows(ctx, TableFact, factColumns, rows[off:end], []string{"transaction_id"})
		if err != nil {
			return report, fmt.Errorf("insert facts: %w", err)
		}
		report.FactsInserted += n
	}
	report.Duplicates = int64(len(rows)) - report.FactsInserted

	if err := tx.CreateIndexes(ctx, schema.Indexes); err != nil {
		return report, fmt.Errorf("create indexes: %w", err)
	}
	report.State = StateLoadedIndexed
	e.stageDone(report, "facts", stage)

	stage = e.now()
	for _, agg := range Aggregates() {
		n, err := tx.RebuildAggregate(ctx, agg.Table, agg.SQL)
		if err != nil {
			return report, fmt.Errorf("rebuild %s: %w", agg.Table, err)
		}
		report.AggregateRows[agg.Table] = n
	}
	if err := tx.RefreshViews(ctx, schema.Views); err != nil {
		return report, fmt.Errorf("refresh views: %w", err)
	}
	e.stageDone(report, "aggregates", stage)

	if batch.Name != "" {
		if err := tx.MarkSourceIngested(ctx, batch.Name, report.RunID, e.now().UTC()); err != nil {
			return report, fmt.Errorf("mark source ingested: %w", err)
		}
	}

	if err := e.checkTolerance(report, opts); err != nil {
		return report, err
	}
	if err := tx.Commit(ctx); err != nil {
		return report, fmt.Errorf("commit load: %w", err)
	}
	committed = true
	report.State = StateReady

	for _, name := range schema.TableNames() {
		n, err := e.Store.CountRows(ctx, name)
		if err != nil {
			return report, fmt.Errorf("count %s: %w", name, err)
		}
		report.TableCounts[name] = n
	}

	report.Duration = e.now().Sub(start)
	e.emitMetrics(report)
	e.Logger.Printf("run=%s source=%s state=%s facts=%d duplicates=%d rejected=%d duration=%s",
		report.RunID, report.SourceName, report.State, report.FactsInserted,
		report.Duplicates, report.totalRejected(), report.Duration)
	return report, nil
}

func (e *Engine) checkTolerance(report *LoadReport, opts Options) error {
	if opts.RejectTolerance < 0 {
		return nil
	}
	if n := report.totalRejected(); n > opts.RejectTolerance {
		return fmt.Errorf("%w: %d rejected, tolerance %d", ErrTooManyRejects, n, opts.RejectTolerance)
	}
	return nil
}

func (e *Engine) stageDone(report *LoadReport, name string, since time.Time) {
	d := e.now().Sub(since)
	e.Logger.Printf("run=%s stage=%s duration=%s", report.RunID, name, d)
	metrics.ObserveHistogram("shopdw.stage.duration_seconds", d.Seconds(), metrics.Labels{"stage": name})
}

func (e *Engine) emitMetrics(report *LoadReport) {
	metrics.IncCounter("shopdw.records.processed", float64(report.Processed), nil)
	metrics.IncCounter("shopdw.facts.inserted", float64(report.FactsInserted), nil)
	metrics.IncCounter("shopdw.facts.duplicates", float64(report.Duplicates), nil)
	for reason, n := range report.Rejected {
		metrics.IncCounter("shopdw.records.rejected", float64(n), metrics.Labels{"reason": reason})
	}
	metrics.ObserveHistogram("shopdw.run.duration_seconds", report.Duration.Seconds(), nil)
}
