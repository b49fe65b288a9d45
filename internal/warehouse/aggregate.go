package warehouse

// AggregateSpec pairs an aggregate table with the INSERT..SELECT that
// rebuilds it from the fact and dimension tables. The SQL carries no
// placeholders and no dialect-specific functions, so every backend runs it
// as-is after truncating the table.
type AggregateSpec struct {
	Table string
	SQL   string
}

// Aggregates returns the rebuild specs in execution order. Revenue-bearing
// aggregates count completed transactions only; the order-status aggregate
// spans every status so cancellations stay visible.
func Aggregates() []AggregateSpec {
	return []AggregateSpec{
		{
			Table: TableAggRevenue,
			SQL: `INSERT INTO agg_kpi_revenue_by_dimension
  (dimension, dimension_value, total_amount, transaction_count, avg_transaction_value)
SELECT 'Category', p.category, SUM(f.total_amount), COUNT(*), AVG(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.category
UNION ALL
SELECT 'Brand', p.brand, SUM(f.total_amount), COUNT(*), AVG(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.brand
UNION ALL
SELECT 'Model', p.model, SUM(f.total_amount), COUNT(*), AVG(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.model`,
		},
		{
			Table: TableAggOrderStatus,
			SQL: `INSERT INTO agg_kpi_status_by_order_type
  (order_type, transaction_status, record_count)
SELECT order_type, transaction_status, COUNT(*)
FROM fact_transactions
GROUP BY order_type, transaction_status`,
		},
		{
			Table: TableAggCustomer,
			SQL: `INSERT INTO agg_customer_metrics
  (age_group, gender, year_month, avg_discount_applied, avg_customer_rating, transaction_count, total_revenue)
SELECT c.age_group, c.customer_gender, d.year_month,
  AVG(f.discount_applied), AVG(f.customer_rating), COUNT(*), SUM(f.total_amount)
FROM fact_transactions f
JOIN dim_customer c ON f.customer_key = c.customer_key
JOIN dim_date d ON f.date_key = d.date_key
WHERE f.transaction_status = 'Completed'
GROUP BY c.age_group, c.customer_gender, d.year_month`,
		},
		{
			Table: TableAggProductType,
			SQL: `INSERT INTO agg_product_type_distribution
  (dimension, dimension_value, product_type, record_count, total_revenue)
SELECT 'Category', p.category, p.product_type, COUNT(*), SUM(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.category, p.product_type
UNION ALL
SELECT 'Brand', p.brand, p.product_type, COUNT(*), SUM(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.brand, p.product_type
UNION ALL
SELECT 'Model', p.model, p.product_type, COUNT(*), SUM(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.model, p.product_type
UNION ALL
SELECT 'Product_Name', p.product_name, p.product_type, COUNT(*), SUM(f.total_amount)
FROM fact_transactions f
JOIN dim_product p ON f.product_key = p.product_key
WHERE f.transaction_status = 'Completed'
GROUP BY p.product_name, p.product_type`,
		},
	}
}
