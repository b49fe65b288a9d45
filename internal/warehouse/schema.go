package warehouse

import "shopdw/internal/storage"

// Table and view names. The downstream dashboard consumes only the agg_*
// tables and the views, never the dimension/fact tables directly.
const (
	TableProduct  = "dim_product"
	TableCustomer = "dim_customer"
	TableDate     = "dim_date"
	TableStaff    = "dim_staff"
	TableSupplier = "dim_supplier"

	TableFact = "fact_transactions"

	TableAggRevenue     = "agg_kpi_revenue_by_dimension"
	TableAggOrderStatus = "agg_kpi_status_by_order_type"
	TableAggCustomer    = "agg_customer_metrics"
	TableAggProductType = "agg_product_type_distribution"

	TableIngested = "ingested_sources"

	ViewFactEnriched   = "vw_fact_enriched"
	ViewRevenueByMonth = "vw_revenue_by_month"
)

// StatusCompleted filters the revenue-bearing aggregates: only completed
// transactions count toward revenue.
const StatusCompleted = "Completed"

func nn() *bool { v := false; return &v }

// StarSchema returns the full warehouse DDL spec: five dimensions, the
// transaction fact table, four aggregate tables, the ingest marker, the
// fact/dimension indexes and the read-time views.
//
// Tables are declared dimensions-first so a backend that enforces REFERENCES
// can create and drop them in declaration (resp. reverse) order.
func StarSchema() storage.Schema {
	return storage.Schema{
		Tables: []storage.TableSpec{
			{
				Name:       TableProduct,
				PrimaryKey: &storage.PrimaryKeySpec{Name: "product_key", Type: "serial"},
				Columns: []storage.ColumnSpec{
					{Name: "product_id", Type: "text", Nullable: nn()},
					{Name: "product_name", Type: "text"},
					{Name: "category", Type: "text"},
					{Name: "brand", Type: "text"},
					{Name: "model", Type: "text"},
					{Name: "product_type", Type: "text"},
					{Name: "unit_price", Type: "real"},
					{Name: "last_seen_at", Type: "timestamp"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"product_id"}}},
			},
			{
				Name:       TableCustomer,
				PrimaryKey: &storage.PrimaryKeySpec{Name: "customer_key", Type: "serial"},
				Columns: []storage.ColumnSpec{
					{Name: "customer_id", Type: "text", Nullable: nn()},
					{Name: "customer_age", Type: "integer"},
					{Name: "customer_gender", Type: "text"},
					{Name: "age_group", Type: "text"},
					{Name: "last_seen_at", Type: "timestamp"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"customer_id"}}},
			},
			{
				// The date key is assigned by the loader (YYYYMMDD), not
				// generated by the store, so fact joins and range filters can
				// use the key directly.
				Name:       TableDate,
				PrimaryKey: &storage.PrimaryKeySpec{Name: "date_key", Type: "integer", Assigned: true},
				Columns: []storage.ColumnSpec{
					{Name: "full_date", Type: "text", Nullable: nn()},
					{Name: "year", Type: "integer"},
					{Name: "quarter", Type: "integer"},
					{Name: "month", Type: "integer"},
					{Name: "month_name", Type: "text"},
					{Name: "week", Type: "integer"},
					{Name: "day", Type: "integer"},
					{Name: "day_of_week", Type: "integer"},
					{Name: "day_name", Type: "text"},
					{Name: "is_weekend", Type: "integer"},
					{Name: "year_month", Type: "text"},
				},
			},
			{
				Name:       TableStaff,
				PrimaryKey: &storage.PrimaryKeySpec{Name: "staff_key", Type: "serial"},
				Columns: []storage.ColumnSpec{
					{Name: "staff_id", Type: "text", Nullable: nn()},
					{Name: "last_seen_at", Type: "timestamp"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"staff_id"}}},
			},
			{
				Name:       TableSupplier,
				PrimaryKey: &storage.PrimaryKeySpec{Name: "supplier_key", Type: "serial"},
				Columns: []storage.ColumnSpec{
					{Name: "supplier_id", Type: "text", Nullable: nn()},
					{Name: "last_seen_at", Type: "timestamp"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"supplier_id"}}},
			},
			{
				Name: TableFact,
				Columns: []storage.ColumnSpec{
					{Name: "transaction_id", Type: "text", Nullable: nn()},
					{Name: "product_key", Type: "integer", Nullable: nn(), References: TableProduct + "(product_key)"},
					{Name: "customer_key", Type: "integer", Nullable: nn(), References: TableCustomer + "(customer_key)"},
					{Name: "date_key", Type: "integer", Nullable: nn(), References: TableDate + "(date_key)"},
					{Name: "staff_key", Type: "integer", Nullable: nn(), References: TableStaff + "(staff_key)"},
					{Name: "supplier_key", Type: "integer", Nullable: nn(), References: TableSupplier + "(supplier_key)"},
					{Name: "transaction_datetime", Type: "text"},
					{Name: "order_type", Type: "text"},
					{Name: "payment_method", Type: "text"},
					{Name: "transaction_status", Type: "text"},
					{Name: "quantity", Type: "integer"},
					{Name: "total_amount", Type: "real"},
					{Name: "discount_applied", Type: "real"},
					{Name: "delivery_time_min", Type: "real"},
					{Name: "customer_rating", Type: "real"},
					{Name: "inventory_level", Type: "integer"},
				},
				Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"transaction_id"}}},
			},
			{
				Name: TableAggRevenue,
				Columns: []storage.ColumnSpec{
					{Name: "dimension", Type: "text", Nullable: nn()},
					{Name: "dimension_value", Type: "text"},
					{Name: "total_amount", Type: "real"},
					{Name: "transaction_count", Type: "integer"},
					{Name: "avg_transaction_value", Type: "real"},
				},
			},
			{
				Name: TableAggOrderStatus,
				Columns: []storage.ColumnSpec{
					{Name: "order_type", Type: "text"},
					{Name: "transaction_status", Type: "text"},
					{Name: "record_count", Type: "integer"},
				},
			},
			{
				Name: TableAggCustomer,
				Columns: []storage.ColumnSpec{
					{Name: "age_group", Type: "text"},
					{Name: "gender", Type: "text"},
					{Name: "year_month", Type: "text"},
					{Name: "avg_discount_applied", Type: "real"},
					{Name: "avg_customer_rating", Type: "real"},
					{Name: "transaction_count", Type: "integer"},
					{Name: "total_revenue", Type: "real"},
				},
			},
			{
				Name: TableAggProductType,
				Columns: []storage.ColumnSpec{
					{Name: "dimension", Type: "text", Nullable: nn()},
					{Name: "dimension_value", Type: "text"},
					{Name: "product_type", Type: "text"},
					{Name: "record_count", Type: "integer"},
					{Name: "total_revenue", Type: "real"},
				},
			},
			{
				Name: TableIngested,
				Columns: []storage.ColumnSpec{
					{Name: "file_name", Type: "text", Nullable: nn()},
					{Name: "run_id", Type: "text"},
					{Name: "ingested_at", Type: "timestamp"},
					{Name: "deleted_at", Type: "timestamp"},
				},
			},
		},

		// Indexes are created only after the bulk fact load completes; the
		// engine drops and recreates them around each load.
		Indexes: []storage.IndexSpec{
			{Name: "idx_fact_product", Table: TableFact, Columns: []string{"product_key"}},
			{Name: "idx_fact_customer", Table: TableFact, Columns: []string{"customer_key"}},
			{Name: "idx_fact_date", Table: TableFact, Columns: []string{"date_key"}},
			{Name: "idx_fact_order_type", Table: TableFact, Columns: []string{"order_type"}},
			{Name: "idx_fact_status", Table: TableFact, Columns: []string{"transaction_status"}},
			{Name: "idx_dim_product_category", Table: TableProduct, Columns: []string{"category"}},
			{Name: "idx_dim_product_brand", Table: TableProduct, Columns: []string{"brand"}},
			{Name: "idx_dim_customer_age_group", Table: TableCustomer, Columns: []string{"age_group"}},

			// Aggregate grains are unique by contract; duplicate keys within
			// one rebuild must fail the run rather than ship bad summaries.
			{Name: "uq_agg_revenue_grain", Table: TableAggRevenue, Columns: []string{"dimension", "dimension_value"}, Unique: true},
			{Name: "uq_agg_order_status_grain", Table: TableAggOrderStatus, Columns: []string{"order_type", "transaction_status"}, Unique: true},
			{Name: "uq_agg_customer_grain", Table: TableAggCustomer, Columns: []string{"age_group", "gender", "year_month"}, Unique: true},
			{Name: "uq_agg_product_type_grain", Table: TableAggProductType, Columns: []string{"dimension", "dimension_value", "product_type"}, Unique: true},
		},

		Views: []storage.ViewSpec{
			{
				Name: ViewFactEnriched,
				Query: `SELECT f.transaction_id, f.transaction_datetime, f.order_type, f.payment_method,
  f.transaction_status, f.quantity, f.total_amount, f.discount_applied,
  f.delivery_time_min, f.customer_rating, f.inventory_level,
  p.product_id, p.product_name, p.category, p.brand, p.model, p.product_type, p.unit_price,
  c.customer_id, c.customer_age, c.customer_gender, c.age_group,
  d.full_date, d.year, d.quarter, d.month, d.month_name, d.year_month, d.is_weekend,
  st.staff_id, su.supplier_id
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
JOIN dim_customer c ON f.customer_key = c.customer_key
JOIN dim_date d ON f.date_key = d.date_key
JOIN dim_staff st ON f.staff_key = st.staff_key
JOIN dim_supplier su ON f.supplier_key = su.supplier_key`,
			},
			{
				Name: ViewRevenueByMonth,
				Query: `SELECT d.year_month, SUM(f.total_amount) AS total_revenue, COUNT(*) AS transaction_count
FROM fact_transactions f
JOIN dim_date d ON f.date_key = d.date_key
WHERE f.transaction_status = '` + StatusCompleted + `'
GROUP BY d.year_month`,
			},
		},
	}
}
