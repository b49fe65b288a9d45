package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shopdw/internal/storage"
)

func testSchema() storage.Schema {
	return storage.Schema{
		Tables: []storage.TableSpec{
			{
				Name:       "dim_widget",
				PrimaryKey: &storage.PrimaryKeySpec{Name: "widget_key", Type: "serial"},
				Columns: []storage.ColumnSpec{
					{Name: "widget_id", Type: "text"},
					{Name: "color", Type: "text"},
					{Name: "last_seen_at", Type: "timestamp"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"widget_id"}}},
			},
			{
				Name: "fact_orders",
				Columns: []storage.ColumnSpec{
					{Name: "order_id", Type: "text"},
					{Name: "widget_key", Type: "integer", References: "dim_widget(widget_key)"},
					{Name: "amount", Type: "real"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"order_id"}}},
			},
		},
		Indexes: []storage.IndexSpec{
			{Name: "idx_orders_widget", Table: "fact_orders", Columns: []string{"widget_key"}},
		},
		Views: []storage.ViewSpec{
			{Name: "vw_totals", Query: "SELECT widget_key, SUM(amount) AS total FROM fact_orders GROUP BY widget_key"},
		},
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s.(*Store)
}

func TestEnsureAndVerifySchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	schema := testSchema()

	if err := s.EnsureSchema(ctx, schema); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// Second ensure is a no-op, not an error.
	if err := s.EnsureSchema(ctx, schema); err != nil {
		t.Fatalf("EnsureSchema rerun: %v", err)
	}
	if err := s.VerifySchema(ctx, schema); err != nil {
		t.Fatalf("VerifySchema: %v", err)
	}
}

// TestVerifySchemaMismatch verifies structural drift surfaces as
// ErrSchemaMismatch, both for a missing table and a missing column.
func TestVerifySchemaMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	schema := testSchema()

	if err := s.VerifySchema(ctx, schema); !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Errorf("missing tables: err = %v, want ErrSchemaMismatch", err)
	}

	if err := s.EnsureSchema(ctx, schema); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	widened := schema
	widened.Tables[0].Columns = append(widened.Tables[0].Columns, storage.ColumnSpec{Name: "material", Type: "text"})
	if err := s.VerifySchema(ctx, widened); !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Errorf("missing column: err = %v, want ErrSchemaMismatch", err)
	}
}

// TestEnsureDimensionRowsFirstWriteWins verifies OR IGNORE semantics: a
// second row for the same natural key neither errors nor overwrites.
func TestEnsureDimensionRowsFirstWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if err := s.EnsureSchema(ctx, testSchema()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	cols := []string{"widget_id", "color", "last_seen_at"}
	now := time.Now().UTC()
	err := s.EnsureDimensionRows(ctx, "dim_widget", cols, [][]any{
		{"W-1", "red", formatTime(now)},
		{"W-2", "blue", formatTime(now)},
	}, "widget_id")
	if err != nil {
		t.Fatalf("EnsureDimensionRows: %v", err)
	}

	err = s.EnsureDimensionRows(ctx, "dim_widget", cols, [][]any{
		{"W-1", "green", formatTime(now)},
	}, "widget_id")
	if err != nil {
		t.Fatalf("EnsureDimensionRows rerun: %v", err)
	}

	var color string
	if err := s.DB().QueryRow("SELECT color FROM dim_widget WHERE widget_id = 'W-1'").Scan(&color); err != nil {
		t.Fatalf("query: %v", err)
	}
	if color != "red" {
		t.Errorf("color = %q, want first-seen %q", color, "red")
	}

	m, err := s.SelectKeyValue(ctx, "dim_widget", "widget_id", "widget_key")
	if err != nil {
		t.Fatalf("SelectKeyValue: %v", err)
	}
	if len(m) != 2 || m["W-1"] == 0 || m["W-2"] == 0 {
		t.Errorf("key map = %v, want 2 assigned keys", m)
	}
}

// TestLoadTxInsertDedupeAndRollback verifies the two core LoadTx behaviors:
// the inserted count excludes duplicate rows, and Rollback leaves the table
// as it was before the transaction.
func TestLoadTxInsertDedupeAndRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	schema := testSchema()

	if err := s.EnsureSchema(ctx, schema); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	cols := []string{"order_id", "widget_key", "amount"}
	dedupe := []string{"order_id"}

	tx, err := s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	n, err := tx.InsertFactRows(ctx, "fact_orders", cols, [][]any{
		{"O-1", int64(1), 10.0},
		{"O-2", int64(1), 20.0},
	}, dedupe)
	if err != nil {
		t.Fatalf("InsertFactRows: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Same rows again plus one new: only the new row lands.
	tx, err = s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	n, err = tx.InsertFactRows(ctx, "fact_orders", cols, [][]any{
		{"O-1", int64(1), 10.0},
		{"O-3", int64(1), 30.0},
	}, dedupe)
	if err != nil {
		t.Fatalf("InsertFactRows rerun: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted on rerun = %d, want 1", n)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	count, err := s.CountRows(ctx, "fact_orders")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 2 {
		t.Errorf("rows after rollback = %d, want 2", count)
	}
}

func TestLoadTxIndexCycleAndViews(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	schema := testSchema()

	if err := s.EnsureSchema(ctx, schema); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	tx, err := s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if err := tx.DropIndexes(ctx, schema.Indexes); err != nil {
		t.Fatalf("DropIndexes on fresh schema: %v", err)
	}
	if _, err := tx.InsertFactRows(ctx, "fact_orders", []string{"order_id", "widget_key", "amount"},
		[][]any{{"O-1", int64(1), 5.0}}, []string{"order_id"}); err != nil {
		t.Fatalf("InsertFactRows: %v", err)
	}
	if err := tx.CreateIndexes(ctx, schema.Indexes); err != nil {
		t.Fatalf("CreateIndexes: %v", err)
	}
	if err := tx.RefreshViews(ctx, schema.Views); err != nil {
		t.Fatalf("RefreshViews: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var total float64
	if err := s.DB().QueryRow("SELECT total FROM vw_totals WHERE widget_key = 1").Scan(&total); err != nil {
		t.Fatalf("view query: %v", err)
	}
	if total != 5.0 {
		t.Errorf("view total = %g, want 5", total)
	}
}

func TestResetSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	schema := testSchema()

	if err := s.EnsureSchema(ctx, schema); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := s.EnsureDimensionRows(ctx, "dim_widget",
		[]string{"widget_id", "color", "last_seen_at"},
		[][]any{{"W-1", "red", formatTime(time.Now())}}, "widget_id"); err != nil {
		t.Fatalf("EnsureDimensionRows: %v", err)
	}

	if err := s.ResetSchema(ctx, schema); err != nil {
		t.Fatalf("ResetSchema: %v", err)
	}
	n, err := s.CountRows(ctx, "dim_widget")
	if err != nil {
		t.Fatalf("CountRows after reset: %v", err)
	}
	if n != 0 {
		t.Errorf("dim_widget rows after reset = %d, want 0", n)
	}
}

func TestSourceIngestedMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	marker := storage.Schema{Tables: []storage.TableSpec{{
		Name: "ingested_sources",
		Columns: []storage.ColumnSpec{
			{Name: "file_name", Type: "text"},
			{Name: "run_id", Type: "text"},
			{Name: "ingested_at", Type: "timestamp"},
			{Name: "deleted_at", Type: "timestamp"},
		},
	}}}
	if err := s.EnsureSchema(ctx, marker); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	done, err := s.SourceIngested(ctx, "feed.json")
	if err != nil || done {
		t.Fatalf("SourceIngested before mark = (%v, %v), want (false, nil)", done, err)
	}

	tx, err := s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if err := tx.MarkSourceIngested(ctx, "feed.json", "run-1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkSourceIngested: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	done, err = s.SourceIngested(ctx, "feed.json")
	if err != nil || !done {
		t.Errorf("SourceIngested after mark = (%v, %v), want (true, nil)", done, err)
	}
}
