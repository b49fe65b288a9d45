package warehouse

import (
	"context"
	"fmt"
	"time"

	"shopdw/internal/storage"
)

// resolver accumulates first-seen dimension rows for one batch and, once
// collected, pushes them through the store's conflict-ignoring ensure path.
// Attributes ride with the FIRST occurrence of each natural key in the
// batch; later occurrences only refresh last_seen_at.
type resolver struct {
	products  *dimBuffer
	customers *dimBuffer
	staff     *dimBuffer
	suppliers *dimBuffer

	minDate time.Time
	maxDate time.Time
}

type dimBuffer struct {
	table     string
	keyColumn string
	columns   []string
	rows      [][]any
	seen      map[string]bool
	keys      []string // natural keys in first-seen order
}

func newDimBuffer(table, keyColumn string, columns []string) *dimBuffer {
	return &dimBuffer{table: table, keyColumn: keyColumn, columns: columns, seen: map[string]bool{}}
}

func (b *dimBuffer) add(key string, row []any) {
	if b.seen[key] {
		return
	}
	b.seen[key] = true
	b.keys = append(b.keys, key)
	b.rows = append(b.rows, row)
}

func newResolver() *resolver {
	return &resolver{
		products: newDimBuffer(TableProduct, "product_id",
			[]string{"product_id", "product_name", "category", "brand", "model", "product_type", "unit_price", "last_seen_at"}),
		customers: newDimBuffer(TableCustomer, "customer_id",
			[]string{"customer_id", "customer_age", "customer_gender", "age_group", "last_seen_at"}),
		staff: newDimBuffer(TableStaff, "staff_id",
			[]string{"staff_id", "last_seen_at"}),
		suppliers: newDimBuffer(TableSupplier, "supplier_id",
			[]string{"supplier_id", "last_seen_at"}),
	}
}

// observe registers one prepared record's dimension attributes and widens the
// batch's date span.
func (r *resolver) observe(p *prepared, seenAt time.Time) {
	rec := p.rec
	r.products.add(rec.ProductID, []any{
		rec.ProductID, rec.ProductName, rec.Category, rec.Brand, rec.Model,
		rec.ProductType, p.unitPrice, seenAt,
	})
	r.customers.add(rec.CustomerID, []any{
		rec.CustomerID, p.customerAge, rec.CustomerGender, AgeGroup(p.customerAge), seenAt,
	})
	r.staff.add(rec.StaffID, []any{rec.StaffID, seenAt})
	r.suppliers.add(rec.SupplierID, []any{rec.SupplierID, seenAt})

	day := midnightUTC(p.at)
	if r.minDate.IsZero() || day.Before(r.minDate) {
		r.minDate = day
	}
	if r.maxDate.IsZero() || day.After(r.maxDate) {
		r.maxDate = day
	}
}

// keyMaps holds the natural-key to surrogate-key lookups the fact loader
// joins through.
type keyMaps struct {
	product  map[string]int64
	customer map[string]int64
	staff    map[string]int64
	supplier map[string]int64
}

// flush ensures every observed dimension member exists (first write wins),
// refreshes last_seen_at for members seen again, fills dim_date over the
// batch's day span, and reads back the surrogate key maps.
func (r *resolver) flush(ctx context.Context, store storage.Store, seenAt time.Time) (*keyMaps, error) {
	km := &keyMaps{}

	for _, d := range []struct {
		buf *dimBuffer
		dst *map[string]int64
	}{
		{r.products, &km.product},
		{r.customers, &km.customer},
		{r.staff, &km.staff},
		{r.suppliers, &km.supplier},
	} {
		b := d.buf
		if err := store.EnsureDimensionRows(ctx, b.table, b.columns, b.rows, b.keyColumn); err != nil {
			return nil, fmt.Errorf("ensure %s: %w", b.table, err)
		}
		keys := make([]any, len(b.keys))
		for i, k := range b.keys {
			keys[i] = k
		}
		if err := store.TouchDimensionRows(ctx, b.table, b.keyColumn, "last_seen_at", keys, seenAt); err != nil {
			return nil, fmt.Errorf("touch %s: %w", b.table, err)
		}
		keyColumn := b.table[len("dim_"):] + "_key"
		m, err := store.SelectKeyValue(ctx, b.table, b.keyColumn, keyColumn)
		if err != nil {
			return nil, fmt.Errorf("read back %s: %w", b.table, err)
		}
		*d.dst = m
	}

	if !r.minDate.IsZero() {
		days := DateRange(r.minDate, r.maxDate)
		rows := make([][]any, 0, len(days))
		for _, day := range days {
			rows = append(rows, DateRow(day))
		}
		spec, _ := StarSchema().Table(TableDate)
		if err := store.EnsureDimensionRows(ctx, TableDate, spec.ColumnNames(), rows, "date_key"); err != nil {
			return nil, fmt.Errorf("ensure %s: %w", TableDate, err)
		}
	}

	return km, nil
}

// lookup resolves all four surrogate keys for one prepared record. A miss is
// a referential gap: the member was observed but never landed, so the record
// is rejected rather than inserted with a dangling key.
func (km *keyMaps) lookup(p *prepared) (productKey, customerKey, staffKey, supplierKey int64, err *RecordError) {
	var ok bool
	if productKey, ok = km.product[p.rec.ProductID]; !ok {
		return 0, 0, 0, 0, gap(p, "product_id", p.rec.ProductID)
	}
	if customerKey, ok = km.customer[p.rec.CustomerID]; !ok {
		return 0, 0, 0, 0, gap(p, "customer_id", p.rec.CustomerID)
	}
	if staffKey, ok = km.staff[p.rec.StaffID]; !ok {
		return 0, 0, 0, 0, gap(p, "staff_id", p.rec.StaffID)
	}
	if supplierKey, ok = km.supplier[p.rec.SupplierID]; !ok {
		return 0, 0, 0, 0, gap(p, "supplier_id", p.rec.SupplierID)
	}
	return productKey, customerKey, staffKey, supplierKey, nil
}

func gap(p *prepared, column, value string) *RecordError {
	return &RecordError{TransactionID: p.rec.TransactionID, Reason: ReasonReferenceGap,
		Err: fmt.Errorf("no %s row for %s=%q", column, column, value)}
}
