package warehouse

import (
	"strings"
	"testing"
)

// TestStarSchemaConsistency guards the internal wiring between the schema
// spec and the loader: insert column lists must match declared columns, and
// every index must target a declared table.
func TestStarSchemaConsistency(t *testing.T) {
	t.Parallel()

	schema := StarSchema()

	fact, ok := schema.Table(TableFact)
	if !ok {
		t.Fatal("fact_transactions missing from schema")
	}
	declared := map[string]bool{}
	for _, c := range fact.ColumnNames() {
		declared[c] = true
	}
	for _, c := range factColumns {
		if !declared[c] {
			t.Errorf("fact insert column %q not declared in schema", c)
		}
	}
	if len(factColumns) != len(fact.ColumnNames()) {
		t.Errorf("fact insert covers %d columns, schema declares %d", len(factColumns), len(fact.ColumnNames()))
	}

	tables := map[string]bool{}
	for _, name := range schema.TableNames() {
		tables[name] = true
	}
	for _, ix := range schema.Indexes {
		if !tables[ix.Table] {
			t.Errorf("index %s targets undeclared table %s", ix.Name, ix.Table)
		}
	}

	for _, agg := range Aggregates() {
		if !tables[agg.Table] {
			t.Errorf("aggregate targets undeclared table %s", agg.Table)
		}
		if !strings.HasPrefix(agg.SQL, "INSERT INTO "+agg.Table) {
			t.Errorf("aggregate SQL for %s does not insert into its own table", agg.Table)
		}
	}
}

// Dimension tables referenced by fact foreign keys must be declared before
// the fact table so backends with enforced REFERENCES create them in order.
func TestStarSchemaDeclarationOrder(t *testing.T) {
	t.Parallel()

	schema := StarSchema()
	pos := map[string]int{}
	for i, ts := range schema.Tables {
		pos[ts.Name] = i
	}

	fact, _ := schema.Table(TableFact)
	for _, c := range fact.Columns {
		if c.References == "" {
			continue
		}
		ref := c.References[:strings.Index(c.References, "(")]
		if pos[ref] >= pos[TableFact] {
			t.Errorf("referenced table %s declared after %s", ref, TableFact)
		}
	}
}
