package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CSVSource reads the feed from a local CSV file with a header row.
//
// Header handling mirrors the feed contract: names are matched after
// trimming edge whitespace and stripping a UTF-8 BOM from the first cell.
// Unknown columns are ignored; a known column missing entirely leaves the
// field empty and validation decides downstream.
type CSVSource struct {
	Path string

	// Comma overrides the field separator. Zero means ','.
	Comma rune
}

func (s *CSVSource) Fetch(ctx context.Context) (*Batch, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.Path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	if s.Comma != 0 {
		cr.Comma = s.Comma
	}

	line := 0
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrUnavailable, err)
	}

	setters := make([]func(*Record, string), len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		setters[i] = fieldSetter(h)
	}

	batch := &Batch{Name: filepath.Base(s.Path)}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		row, err := readRec()
		if err == io.EOF {
			return batch, nil
		}
		if err != nil {
			batch.Rejects = append(batch.Rejects, Reject{Line: line, Err: fmt.Errorf("csv read: %w", err)})
			continue
		}

		var rec Record
		for i, v := range row {
			if i >= len(setters) || setters[i] == nil {
				continue
			}
			if strings.TrimSpace(v) != v {
				v = strings.TrimSpace(v)
			}
			setters[i](&rec, v)
		}
		batch.Records = append(batch.Records, rec)
	}
}

// fieldSetter maps a feed column name to a Record field. Returns nil for
// columns the warehouse does not consume.
func fieldSetter(header string) func(*Record, string) {
	switch header {
	case "Transaction_ID":
		return func(r *Record, v string) { r.TransactionID = v }
	case "Transaction_DateTime":
		return func(r *Record, v string) { r.TransactionDateTime = v }
	case "Product_ID":
		return func(r *Record, v string) { r.ProductID = v }
	case "Product_Name":
		return func(r *Record, v string) { r.ProductName = v }
	case "Category":
		return func(r *Record, v string) { r.Category = v }
	case "Brand":
		return func(r *Record, v string) { r.Brand = v }
	case "Model":
		return func(r *Record, v string) { r.Model = v }
	case "Product_Type":
		return func(r *Record, v string) { r.ProductType = v }
	case "Unit_Price":
		return func(r *Record, v string) { r.UnitPrice = json.Number(v) }
	case "Customer_ID":
		return func(r *Record, v string) { r.CustomerID = v }
	case "Customer_Age":
		return func(r *Record, v string) { r.CustomerAge = json.Number(v) }
	case "Customer_Gender":
		return func(r *Record, v string) { r.CustomerGender = v }
	case "Staff_ID":
		return func(r *Record, v string) { r.StaffID = v }
	case "Supplier_ID":
		return func(r *Record, v string) { r.SupplierID = v }
	case "Order_Type":
		return func(r *Record, v string) { r.OrderType = v }
	case "Payment_Method":
		return func(r *Record, v string) { r.PaymentMethod = v }
	case "Transaction_Status":
		return func(r *Record, v string) { r.TransactionStatus = v }
	case "Quantity":
		return func(r *Record, v string) { r.Quantity = json.Number(v) }
	case "Total_Amount":
		return func(r *Record, v string) { r.TotalAmount = json.Number(v) }
	case "Discount_Applied":
		return func(r *Record, v string) { r.DiscountApplied = json.Number(v) }
	case "Delivery_Time_Min":
		return func(r *Record, v string) { r.DeliveryTimeMin = json.Number(v) }
	case "Customer_Rating":
		return func(r *Record, v string) { r.CustomerRating = json.Number(v) }
	case "Inventory_Level":
		return func(r *Record, v string) { r.InventoryLevel = json.Number(v) }
	default:
		return nil
	}
}
