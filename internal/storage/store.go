package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open a warehouse store.
//
// When to use:
//   - Use Config when constructing a Store via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - New returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// Store is a backend-agnostic interface for the star-schema warehouse.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the load engine needs. Each backend implements these semantics
// in its own idiomatic way (Postgres ON CONFLICT, SQLite OR IGNORE, MSSQL
// NOT EXISTS, etc).
type Store interface {
	// Close releases any backend resources (connections, prepared statements, etc).
	// Callers should treat Close as "call once" at process shutdown.
	Close()

	// EnsureSchema creates the warehouse tables if they do not exist.
	// It never drops data; use ResetSchema for a full rebuild.
	EnsureSchema(ctx context.Context, schema Schema) error

	// VerifySchema checks that every table in the schema exists with the
	// expected columns. A structural mismatch is fatal to a load run.
	VerifySchema(ctx context.Context, schema Schema) error

	// ResetSchema drops the full set of warehouse objects (views, indexes,
	// tables) and recreates the tables, returning the warehouse to its
	// empty/schema-only state.
	ResetSchema(ctx context.Context, schema Schema) error

	// Dimension APIs: idempotent row ensure + surrogate lookup.
	//
	// EnsureDimensionRows inserts full dimension rows, ignoring rows whose
	// value in conflictColumn already exists (type-0 semantics: first write
	// wins, later attribute values never overwrite).
	EnsureDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumn string) error

	// TouchDimensionRows refreshes the non-identifying last-seen timestamp
	// for the given natural keys. It never changes any other column.
	TouchDimensionRows(ctx context.Context, table, keyColumn, seenColumn string, keys []any, seenAt time.Time) error

	// SelectKeyValue returns the full natural-key -> surrogate-key mapping
	// for a dimension, keyed by NormalizeKey.
	SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error)

	// SourceIngested reports whether a source artifact was already ingested
	// (marked and not soft-deleted).
	SourceIngested(ctx context.Context, fileName string) (bool, error)

	// CountRows returns the row count of a table or view.
	CountRows(ctx context.Context, table string) (int64, error)

	// BeginLoad opens the transactional boundary that spans fact load,
	// index creation, aggregate rebuild and view refresh. A failure before
	// Commit leaves the previous successful load intact.
	BeginLoad(ctx context.Context) (LoadTx, error)
}

// LoadTx is the write half of a load run. All operations happen inside a
// single backend transaction.
type LoadTx interface {
	// InsertFactRows appends fact rows. Rows whose dedupeColumns values
	// already exist are silently skipped; the returned count is the number
	// of rows actually inserted.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)

	// DropIndexes / CreateIndexes implement the two-phase
	// bulk-load-then-index sequence.
	DropIndexes(ctx context.Context, indexes []IndexSpec) error
	CreateIndexes(ctx context.Context, indexes []IndexSpec) error

	// RebuildAggregate empties an aggregate table and refills it from the
	// given INSERT ... SELECT statement, returning the rows written.
	RebuildAggregate(ctx context.Context, table string, insertSelect string) (int64, error)

	// RefreshViews drops and recreates the read-time views.
	RefreshViews(ctx context.Context, views []ViewSpec) error

	// MarkSourceIngested records the ingest marker for a source artifact.
	MarkSourceIngested(ctx context.Context, fileName, runID string, at time.Time) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a store backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
