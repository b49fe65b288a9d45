package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shopdw/internal/storage"
)

// Store implements storage.Store for SQLite.
//
// Key design points:
//   - SQLite has no native timestamp type; modernc.org/sqlite stores
//     timestamps with TEXT affinity. All timestamps are written as
//     RFC3339Nano strings for reliable round-trip behavior.
//   - The warehouse has exactly one writer per load window, so the pool is
//     pinned to a single connection. This also makes ":memory:" DSNs behave
//     (every pooled connection would otherwise get its own empty database).
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

// DB exposes the underlying handle for read-only inspection (tests, the
// statistics display). Writers must go through the Store API.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) EnsureSchema(ctx context.Context, schema storage.Schema) error {
	for _, t := range schema.Tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// VerifySchema checks table presence and column sets via PRAGMA table_info.
// Extra columns are tolerated; missing tables or columns are a fatal
// storage.ErrSchemaMismatch.
func (s *Store) VerifySchema(ctx context.Context, schema storage.Schema) error {
	for _, t := range schema.Tables {
		have, err := s.tableColumns(ctx, t.Name)
		if err != nil {
			return err
		}
		if len(have) == 0 {
			return fmt.Errorf("%w: table %s missing", storage.ErrSchemaMismatch, t.Name)
		}
		for _, c := range t.ColumnNames() {
			if !have[strings.ToLower(c)] {
				return fmt.Errorf("%w: table %s missing column %s", storage.ErrSchemaMismatch, t.Name, c)
			}
		}
	}
	return nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, sqlIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}

// ResetSchema drops every warehouse object (views first, then indexes and
// tables) and recreates the tables, leaving an empty/schema-only store.
func (s *Store) ResetSchema(ctx context.Context, schema storage.Schema) error {
	for _, v := range schema.Views {
		if _, err := s.db.ExecContext(ctx, "DROP VIEW IF EXISTS "+sqlIdent(v.Name)); err != nil {
			return fmt.Errorf("drop view %s: %w", v.Name, err)
		}
	}
	for _, ix := range schema.Indexes {
		if _, err := s.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+sqlIdent(ix.Name)); err != nil {
			return fmt.Errorf("drop index %s: %w", ix.Name, err)
		}
	}
	for _, t := range schema.Tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(t.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return s.EnsureSchema(ctx, schema)
}

// EnsureDimensionRows inserts full dimension rows that do not yet exist.
//
// "INSERT OR IGNORE" relies on the UNIQUE/PK constraint covering
// conflictColumn, which the star schema declares for every dimension. Rows
// for already-known natural keys are skipped wholesale, giving the type-0
// first-write-wins behavior.
func (s *Store) EnsureDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumn string) error {
	if len(rows) == 0 {
		return nil
	}
	_ = conflictColumn // OR IGNORE resolves against the table's own constraints

	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}

	_, err := s.db.ExecContext(ctx, b.String(), args...)
	return err
}

// bindValue keeps timestamp storage uniform: time.Time values always land as
// RFC3339Nano TEXT, never in a driver-chosen format.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatTime(t)
	}
	return v
}

func (s *Store) TouchDimensionRows(ctx context.Context, table, keyColumn, seenColumn string, keys []any, seenAt time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
	q := fmt.Sprintf(
		`UPDATE %s SET %s = ? WHERE %s IN (%s)`,
		sqlIdent(table), sqlIdent(seenColumn), sqlIdent(keyColumn), ph,
	)
	args := make([]any, 0, len(keys)+1)
	args = append(args, formatTime(seenAt))
	args = append(args, keys...)
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *Store) SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, sqlIdent(keyColumn), sqlIdent(valueColumn), sqlIdent(table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k any
		var id sql.NullInt64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		if !id.Valid {
			return nil, fmt.Errorf(
				"sqlite: %s.%s is NULL; surrogate key not generated (check primary_key.type, serial maps to INTEGER PRIMARY KEY)",
				table, valueColumn,
			)
		}
		out[storage.NormalizeKey(k)] = id.Int64
	}
	return out, rows.Err()
}

func (s *Store) SourceIngested(ctx context.Context, fileName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingested_sources WHERE file_name = ? AND deleted_at IS NULL`,
		fileName,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqlIdent(table)).Scan(&n)
	return n, err
}

func (s *Store) BeginLoad(ctx context.Context) (storage.LoadTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &loadTx{tx: tx}, nil
}

type loadTx struct {
	tx *sql.Tx
}

// InsertFactRows performs a multi-row insert. dedupeColumns requests
// "INSERT OR IGNORE", which requires a UNIQUE constraint matching those
// columns in the destination table; the returned count excludes ignored
// duplicates.
func (l *loadTx) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	insertPrefix := "INSERT INTO "
	if len(dedupeColumns) > 0 {
		insertPrefix = "INSERT OR IGNORE INTO "
	}

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(insertPrefix)
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}

	res, err := l.tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (l *loadTx) DropIndexes(ctx context.Context, indexes []storage.IndexSpec) error {
	for _, ix := range indexes {
		if _, err := l.tx.ExecContext(ctx, "DROP INDEX IF EXISTS "+sqlIdent(ix.Name)); err != nil {
			return fmt.Errorf("drop index %s: %w", ix.Name, err)
		}
	}
	return nil
}

func (l *loadTx) CreateIndexes(ctx context.Context, indexes []storage.IndexSpec) error {
	for _, ix := range indexes {
		unique := ""
		if ix.Unique {
			unique = "UNIQUE "
		}
		q := fmt.Sprintf(
			"CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, sqlIdent(ix.Name), sqlIdent(ix.Table), joinIdentList(ix.Columns),
		)
		if _, err := l.tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index %s: %w", ix.Name, err)
		}
	}
	return nil
}

// RebuildAggregate replaces the table's contents in full. Running inside the
// load transaction keeps the replacement all-or-nothing for readers.
func (l *loadTx) RebuildAggregate(ctx context.Context, table string, insertSelect string) (int64, error) {
	if _, err := l.tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(table)); err != nil {
		return 0, fmt.Errorf("clear %s: %w", table, err)
	}
	res, err := l.tx.ExecContext(ctx, insertSelect)
	if err != nil {
		return 0, fmt.Errorf("rebuild %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (l *loadTx) RefreshViews(ctx context.Context, views []storage.ViewSpec) error {
	for _, v := range views {
		if _, err := l.tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+sqlIdent(v.Name)); err != nil {
			return fmt.Errorf("drop view %s: %w", v.Name, err)
		}
		if _, err := l.tx.ExecContext(ctx, "CREATE VIEW "+sqlIdent(v.Name)+" AS "+v.Query); err != nil {
			return fmt.Errorf("create view %s: %w", v.Name, err)
		}
	}
	return nil
}

func (l *loadTx) MarkSourceIngested(ctx context.Context, fileName, runID string, at time.Time) error {
	_, err := l.tx.ExecContext(ctx,
		`INSERT INTO ingested_sources (file_name, run_id, ingested_at, deleted_at) VALUES (?, ?, ?, NULL)`,
		fileName, runID, formatTime(at),
	)
	return err
}

func (l *loadTx) Commit(ctx context.Context) error   { return l.tx.Commit() }
func (l *loadTx) Rollback(ctx context.Context) error { return l.tx.Rollback() }

// ---- DDL ----

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))
		switch {
		case pkType == "serial":
			// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the
			// rowid and auto-generates values.
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), columnType(pkType)))
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Type))
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
		// SQLite supports REFERENCES, but enforcement depends on
		// PRAGMA foreign_keys=ON. Referential integrity is guaranteed by
		// load ordering, not by the constraint.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func columnType(t string) string {
	switch strings.TrimSpace(strings.ToLower(t)) {
	case "integer":
		return "INTEGER"
	case "real":
		return "REAL"
	case "timestamp":
		// Stored as RFC3339Nano TEXT; see formatTime.
		return "TEXT"
	default:
		return "TEXT"
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// formatTime formats a time as RFC3339Nano in UTC. We store timestamps as
// TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
