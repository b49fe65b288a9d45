package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"shopdw/internal/storage"
)

// Store implements storage.Store for SQL Server.
//
// Implementation notes:
//   - Avoids MERGE. Dimension inserts use an INSERT ... SELECT over a VALUES
//     table with a LEFT JOIN anti-semi join; fact dedupe uses NOT EXISTS.
//   - SQL Server has a hard limit of 2100 parameters per statement, so all
//     multi-row statements are chunked to stay comfortably below it.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

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

func (s *Store) VerifySchema(ctx context.Context, schema storage.Schema) error {
	for _, t := range schema.Tables {
		rows, err := s.db.QueryContext(ctx,
			`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1`,
			t.Name,
		)
		if err != nil {
			return err
		}
		have := map[string]bool{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			have[strings.ToLower(name)] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
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

func (s *Store) ResetSchema(ctx context.Context, schema storage.Schema) error {
	for _, v := range schema.Views {
		q := fmt.Sprintf("IF OBJECT_ID(N'%s', N'V') IS NOT NULL DROP VIEW %s;", v.Name, mssqlIdent(v.Name))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("drop view %s: %w", v.Name, err)
		}
	}
	for i := len(schema.Tables) - 1; i >= 0; i-- {
		t := schema.Tables[i]
		q := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", t.Name, mssqlIdent(t.Name))
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return s.EnsureSchema(ctx, schema)
}

func (s *Store) EnsureDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumn string) error {
	if len(rows) == 0 {
		return nil
	}

	keyPos := -1
	for i, c := range columns {
		if strings.EqualFold(c, conflictColumn) {
			keyPos = i
			break
		}
	}
	if keyPos < 0 {
		return fmt.Errorf("EnsureDimensionRows: conflict column %q not present in columns", conflictColumn)
	}

	maxRows := 2000 / max(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		q, args := buildEnsureDimensionRowsSQL(table, columns, rows[start:end], conflictColumn)
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("EnsureDimensionRows: insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) TouchDimensionRows(ctx context.Context, table, keyColumn, seenColumn string, keys []any, seenAt time.Time) error {
	if len(keys) == 0 {
		return nil
	}

	const chunkSize = 1000
	for start := 0; start < len(keys); start += chunkSize {
		end := min(start+chunkSize, len(keys))
		part := keys[start:end]

		var b strings.Builder
		b.WriteString("UPDATE ")
		b.WriteString(mssqlIdent(table))
		b.WriteString(" SET ")
		b.WriteString(mssqlIdent(seenColumn))
		b.WriteString(" = @p1 WHERE ")
		b.WriteString(mssqlIdent(keyColumn))
		b.WriteString(" IN (")

		args := make([]any, 0, len(part)+1)
		args = append(args, seenAt.UTC())
		for i, k := range part {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", i+2)
			args = append(args, k)
		}
		b.WriteString(")")

		if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, mssqlIdent(keyColumn), mssqlIdent(valueColumn), mssqlIdent(table))
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
			return nil, fmt.Errorf("mssql: %s.%s is NULL; surrogate key not generated", table, valueColumn)
		}
		out[storage.NormalizeKey(k)] = id.Int64
	}
	return out, rows.Err()
}

func (s *Store) SourceIngested(ctx context.Context, fileName string) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingested_sources WHERE file_name = @p1 AND deleted_at IS NULL`,
		fileName,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+mssqlIdent(table)).Scan(&n)
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

func (l *loadTx) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	maxRows := 2000 / max(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		part := rows[start:end]

		var (
			q    string
			args []any
		)
		if len(dedupeColumns) > 0 {
			q, args = buildInsertNotExistsSQL(table, columns, part, dedupeColumns)
		} else {
			q, args = buildBulkInsertSQL(table, columns, part)
		}

		res, err := l.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (l *loadTx) DropIndexes(ctx context.Context, indexes []storage.IndexSpec) error {
	for _, ix := range indexes {
		q := fmt.Sprintf(
			"IF EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s') DROP INDEX %s ON %s;",
			ix.Name, mssqlIdent(ix.Name), mssqlIdent(ix.Table),
		)
		if _, err := l.tx.ExecContext(ctx, q); err != nil {
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
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s') CREATE %sINDEX %s ON %s (%s);",
			ix.Name, unique, mssqlIdent(ix.Name), mssqlIdent(ix.Table), joinIdentList(ix.Columns),
		)
		if _, err := l.tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index %s: %w", ix.Name, err)
		}
	}
	return nil
}

func (l *loadTx) RebuildAggregate(ctx context.Context, table string, insertSelect string) (int64, error) {
	if _, err := l.tx.ExecContext(ctx, "DELETE FROM "+mssqlIdent(table)); err != nil {
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
		drop := fmt.Sprintf("IF OBJECT_ID(N'%s', N'V') IS NOT NULL DROP VIEW %s;", v.Name, mssqlIdent(v.Name))
		if _, err := l.tx.ExecContext(ctx, drop); err != nil {
			return fmt.Errorf("drop view %s: %w", v.Name, err)
		}
		// CREATE VIEW must be the only statement in its batch.
		create := "CREATE VIEW " + mssqlIdent(v.Name) + " AS " + v.Query
		if _, err := l.tx.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("create view %s: %w", v.Name, err)
		}
	}
	return nil
}

func (l *loadTx) MarkSourceIngested(ctx context.Context, fileName, runID string, at time.Time) error {
	_, err := l.tx.ExecContext(ctx,
		`INSERT INTO ingested_sources (file_name, run_id, ingested_at, deleted_at) VALUES (@p1, @p2, @p3, NULL)`,
		fileName, runID, at.UTC(),
	)
	return err
}

func (l *loadTx) Commit(ctx context.Context) error   { return l.tx.Commit() }
func (l *loadTx) Rollback(ctx context.Context) error { return l.tx.Rollback() }

// ---- SQL construction ----

// buildEnsureDimensionRowsSQL inserts full dimension rows for natural keys the
// table does not yet contain, via a VALUES table and a LEFT JOIN anti-semi
// join on the natural key column. First write wins; later rows for the same
// key are filtered out by the join.
func buildEnsureDimensionRowsSQL(table string, columns []string, rows [][]any, conflictColumn string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v." + mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") LEFT JOIN ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" t ON t.")
	b.WriteString(mssqlIdent(conflictColumn))
	b.WriteString(" = v.")
	b.WriteString(mssqlIdent(conflictColumn))
	b.WriteString(" WHERE t.")
	b.WriteString(mssqlIdent(conflictColumn))
	b.WriteString(" IS NULL")

	return b.String(), args
}

func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// buildInsertNotExistsSQL inserts rows only if no row with the same dedupe
// column values exists. Duplicates inside the VALUES table itself are also
// collapsed via ROW_NUMBER, so reprocessing the same feed is idempotent.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v." + mssqlIdent(c))
	}
	b.WriteString(" FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY ")
	b.WriteString(joinIdentList(dedupeColumns))
	b.WriteString(" ORDER BY (SELECT NULL)) AS rn FROM (VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS raw(")
	b.WriteString(joinIdentList(columns))
	b.WriteString(")) AS v WHERE v.rn = 1 AND NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")

	return b.String(), args
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))
		switch pkType {
		case "serial":
			parts = append(parts, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name), columnType(pkType)))
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", mssqlIdent(c.Name), columnType(c.Type))
		nullable := true
		if c.Nullable != nil {
			nullable = *c.Nullable
		}
		if !nullable {
			col += " NOT NULL"
		}
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

	// OBJECT_ID guard keeps EnsureSchema idempotent without IF NOT EXISTS.
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		t.Name, mssqlIdent(t.Name), strings.Join(parts, ", "),
	), nil
}

func columnType(t string) string {
	switch strings.TrimSpace(strings.ToLower(t)) {
	case "integer":
		return "BIGINT"
	case "real":
		return "FLOAT"
	case "timestamp":
		return "DATETIMEOFFSET"
	default:
		return "NVARCHAR(400)"
	}
}

func mssqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, mssqlIdent(c))
	}
	return strings.Join(out, ", ")
}
