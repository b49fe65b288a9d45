// The schema spec types need to live in a place both the warehouse engine and
// the backend packages can import without circular deps.
package storage

type Schema struct {
	Tables  []TableSpec `json:"tables"`
	Indexes []IndexSpec `json:"indexes"`
	Views   []ViewSpec  `json:"views"`
}

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // "serial" (auto-assigned) or a concrete column type

	// Assigned marks keys provided by the loader (e.g. the date dimension's
	// YYYYMMDD key) rather than generated by the store.
	Assigned bool `json:"assigned,omitempty"`
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // "text" | "integer" | "real" | "timestamp"
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

type IndexSpec struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ViewSpec defines a read-time view. Query must be portable SELECT SQL; the
// backend wraps it in its own CREATE VIEW form.
type ViewSpec struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// TableNames returns the table names in declaration order.
func (s Schema) TableNames() []string {
	out := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		out = append(out, t.Name)
	}
	return out
}

// Table returns the spec for a named table, if present.
func (s Schema) Table(name string) (TableSpec, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// ColumnNames returns the full column list of a table, primary key first.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}
