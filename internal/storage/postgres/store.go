package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopdw/internal/storage"
)

// Store implements storage.Store for Postgres.
//
// Idempotency model:
//   - Dimension rows: INSERT ... ON CONFLICT (natural key) DO NOTHING.
//   - Fact rows: INSERT ... ON CONFLICT (transaction id) DO NOTHING.
//
// Both rely on the UNIQUE constraints the star schema declares; without
// them, reprocessing the same feed would fail the run on unique violations.
type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureSchema(ctx context.Context, schema storage.Schema) error {
	for _, t := range schema.Tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Store) VerifySchema(ctx context.Context, schema storage.Schema) error {
	for _, t := range schema.Tables {
		rows, err := s.pool.Query(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_name = $1`,
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
		if _, err := s.pool.Exec(ctx, "DROP VIEW IF EXISTS "+pgIdent(v.Name)); err != nil {
			return fmt.Errorf("drop view %s: %w", v.Name, err)
		}
	}
	for _, ix := range schema.Indexes {
		if _, err := s.pool.Exec(ctx, "DROP INDEX IF EXISTS "+pgIdent(ix.Name)); err != nil {
			return fmt.Errorf("drop index %s: %w", ix.Name, err)
		}
	}
	// Reverse declaration order so fact tables drop before the dimensions
	// they reference.
	for i := len(schema.Tables) - 1; i >= 0; i-- {
		t := schema.Tables[i]
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(t.Name)+" CASCADE"); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return s.EnsureSchema(ctx, schema)
}

func (s *Store) EnsureDimensionRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumn string) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgIdent(conflictColumn))
	b.WriteString(") DO NOTHING")

	_, err := s.pool.Exec(ctx, b.String(), args...)
	return err
}

func (s *Store) TouchDimensionRows(ctx context.Context, table, keyColumn, seenColumn string, keys []any, seenAt time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	q := fmt.Sprintf(
		`UPDATE %s SET %s = $1 WHERE %s = ANY($2)`,
		pgIdent(table), pgIdent(seenColumn), pgIdent(keyColumn),
	)
	ks := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = storage.NormalizeKey(k)
	}
	_, err := s.pool.Exec(ctx, q, seenAt.UTC(), ks)
	return err
}

func (s *Store) SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, pgIdent(keyColumn), pgIdent(valueColumn), pgIdent(table))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k any
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		out[storage.NormalizeKey(k)] = id
	}
	return out, rows.Err()
}

func (s *Store) SourceIngested(ctx context.Context, fileName string) (bool, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ingested_sources WHERE file_name = $1 AND deleted_at IS NULL`,
		fileName,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgIdent(table)).Scan(&n)
	return n, err
}

func (s *Store) BeginLoad(ctx context.Context) (storage.LoadTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &loadTx{tx: tx}, nil
}

type loadTx struct {
	tx pgx.Tx
}

func (l *loadTx) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args := buildInsertSQL(table, columns, rows, dedupeColumns)
	cmd, err := l.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (l *loadTx) DropIndexes(ctx context.Context, indexes []storage.IndexSpec) error {
	for _, ix := range indexes {
		if _, err := l.tx.Exec(ctx, "DROP INDEX IF EXISTS "+pgIdent(ix.Name)); err != nil {
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
			unique, pgIdent(ix.Name), pgIdent(ix.Table), joinIdentList(ix.Columns),
		)
		if _, err := l.tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("create index %s: %w", ix.Name, err)
		}
	}
	return nil
}

func (l *loadTx) RebuildAggregate(ctx context.Context, table string, insertSelect string) (int64, error) {
	if _, err := l.tx.Exec(ctx, "DELETE FROM "+pgIdent(table)); err != nil {
		return 0, fmt.Errorf("clear %s: %w", table, err)
	}
	cmd, err := l.tx.Exec(ctx, insertSelect)
	if err != nil {
		return 0, fmt.Errorf("rebuild %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

func (l *loadTx) RefreshViews(ctx context.Context, views []storage.ViewSpec) error {
	for _, v := range views {
		if _, err := l.tx.Exec(ctx, "DROP VIEW IF EXISTS "+pgIdent(v.Name)); err != nil {
			return fmt.Errorf("drop view %s: %w", v.Name, err)
		}
		if _, err := l.tx.Exec(ctx, "CREATE VIEW "+pgIdent(v.Name)+" AS "+v.Query); err != nil {
			return fmt.Errorf("create view %s: %w", v.Name, err)
		}
	}
	return nil
}

func (l *loadTx) MarkSourceIngested(ctx context.Context, fileName, runID string, at time.Time) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO ingested_sources (file_name, run_id, ingested_at, deleted_at) VALUES ($1, $2, $3, NULL)`,
		fileName, runID, at.UTC(),
	)
	return err
}

func (l *loadTx) Commit(ctx context.Context) error   { return l.tx.Commit(ctx) }
func (l *loadTx) Rollback(ctx context.Context) error { return l.tx.Rollback(ctx) }

// ---- SQL construction ----

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and ON CONFLICT
//     behavior can be unit tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(dedupeColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdentList(dedupeColumns))
		b.WriteString(") DO NOTHING")
	}

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
			parts = append(parts, fmt.Sprintf(`%s BIGSERIAL PRIMARY KEY`, pgIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(t.PrimaryKey.Name), columnType(pkType)))
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", pgIdent(c.Name), columnType(c.Type))
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

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func columnType(t string) string {
	switch strings.TrimSpace(strings.ToLower(t)) {
	case "integer":
		return "BIGINT"
	case "real":
		return "DOUBLE PRECISION"
	case "timestamp":
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, pgIdent(c))
	}
	return strings.Join(out, ", ")
}
