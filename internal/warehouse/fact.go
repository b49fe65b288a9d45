package warehouse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shopdw/internal/source"
)

// Timestamp layouts accepted from the feed, tried in order. Whatever parses
// is normalized to UTC before key derivation and storage.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
	time.RFC3339,
}

// prepared is one source record after validation, with typed measures and a
// parsed event time. Everything downstream (dimension resolution, fact
// insert, date range) works off this, never the raw record.
type prepared struct {
	rec source.Record
	at  time.Time

	unitPrice       float64
	customerAge     int64
	quantity        int64
	totalAmount     float64
	discountApplied float64
	deliveryTimeMin float64
	customerRating  float64
	inventoryLevel  int64
}

// prepare validates a raw record. A nil error means the record is loadable;
// otherwise the returned *RecordError names the reject bucket.
func prepare(rec source.Record) (*prepared, *RecordError) {
	if err := checkKeys(rec); err != nil {
		return nil, err
	}

	at, err := parseTimestamp(rec.TransactionDateTime)
	if err != nil {
		return nil, &RecordError{TransactionID: rec.TransactionID, Reason: ReasonBadTimestamp, Err: err}
	}

	p := &prepared{rec: rec, at: at}

	for _, m := range []struct {
		name string
		raw  json.Number
		dst  *float64
	}{
		{"Unit_Price", rec.UnitPrice, &p.unitPrice},
		{"Total_Amount", rec.TotalAmount, &p.totalAmount},
		{"Discount_Applied", rec.DiscountApplied, &p.discountApplied},
		{"Delivery_Time_Min", rec.DeliveryTimeMin, &p.deliveryTimeMin},
		{"Customer_Rating", rec.CustomerRating, &p.customerRating},
	} {
		v, err := numberFloat(m.raw)
		if err != nil {
			return nil, &RecordError{TransactionID: rec.TransactionID, Reason: ReasonBadMeasure,
				Err: fmt.Errorf("%s: %w", m.name, err)}
		}
		*m.dst = v
	}

	for _, m := range []struct {
		name string
		raw  json.Number
		dst  *int64
	}{
		{"Customer_Age", rec.CustomerAge, &p.customerAge},
		{"Quantity", rec.Quantity, &p.quantity},
		{"Inventory_Level", rec.InventoryLevel, &p.inventoryLevel},
	} {
		v, err := numberInt(m.raw)
		if err != nil {
			return nil, &RecordError{TransactionID: rec.TransactionID, Reason: ReasonBadMeasure,
				Err: fmt.Errorf("%s: %w", m.name, err)}
		}
		*m.dst = v
	}

	return p, nil
}

// checkKeys rejects records missing the natural keys every fact row joins on.
func checkKeys(rec source.Record) *RecordError {
	for _, k := range []struct{ name, value string }{
		{"Transaction_ID", rec.TransactionID},
		{"Product_ID", rec.ProductID},
		{"Customer_ID", rec.CustomerID},
		{"Staff_ID", rec.StaffID},
		{"Supplier_ID", rec.SupplierID},
	} {
		if strings.TrimSpace(k.value) == "" {
			return &RecordError{TransactionID: rec.TransactionID, Reason: ReasonMissingKey,
				Err: fmt.Errorf("%s is empty", k.name)}
		}
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("Transaction_DateTime is empty")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable Transaction_DateTime %q", s)
}

// numberFloat treats an absent value as zero; the feed leaves optional
// measures blank rather than sending an explicit null.
func numberFloat(n json.Number) (float64, error) {
	if n.String() == "" {
		return 0, nil
	}
	return n.Float64()
}

func numberInt(n json.Number) (int64, error) {
	if n.String() == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	i := int64(f)
	if float64(i) != f {
		return 0, fmt.Errorf("not an integer: %s", n.String())
	}
	return i, nil
}

// factColumns is the fact insert column order, matching the schema spec.
var factColumns = []string{
	"transaction_id",
	"product_key", "customer_key", "date_key", "staff_key", "supplier_key",
	"transaction_datetime",
	"order_type", "payment_method", "transaction_status",
	"quantity", "total_amount", "discount_applied",
	"delivery_time_min", "customer_rating", "inventory_level",
}

// factRow materializes the insert row once all five surrogate keys are known.
func (p *prepared) factRow(productKey, customerKey, staffKey, supplierKey int64) []any {
	return []any{
		p.rec.TransactionID,
		productKey, customerKey, DateKey(p.at), staffKey, supplierKey,
		p.at.Format(time.RFC3339),
		p.rec.OrderType, p.rec.PaymentMethod, p.rec.TransactionStatus,
		p.quantity, p.totalAmount, p.discountApplied,
		p.deliveryTimeMin, p.customerRating, p.inventoryLevel,
	}
}
