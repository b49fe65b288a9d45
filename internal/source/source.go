// Package source supplies transaction records to the load engine.
//
// A Source is a pull-once bulk fetch: the engine asks for the whole feed,
// transforms it, and never comes back for more within a run.
package source

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable is wrapped by sources when the upstream feed cannot be
// reached at all (connection refused, timeout, missing file). The engine
// aborts before any warehouse write when it sees this.
var ErrUnavailable = errors.New("source unavailable")

// Record is one flat transaction as delivered by the upstream feed.
//
// Field tags match the feed's column names verbatim. Numeric fields use
// json.Number so type problems in a single record surface as a per-record
// rejection instead of failing the whole fetch.
type Record struct {
	TransactionID       string      `json:"Transaction_ID"`
	TransactionDateTime string      `json:"Transaction_DateTime"`
	ProductID           string      `json:"Product_ID"`
	ProductName         string      `json:"Product_Name"`
	Category            string      `json:"Category"`
	Brand               string      `json:"Brand"`
	Model               string      `json:"Model"`
	ProductType         string      `json:"Product_Type"`
	UnitPrice           json.Number `json:"Unit_Price"`
	CustomerID          string      `json:"Customer_ID"`
	CustomerAge         json.Number `json:"Customer_Age"`
	CustomerGender      string      `json:"Customer_Gender"`
	StaffID             string      `json:"Staff_ID"`
	SupplierID          string      `json:"Supplier_ID"`
	OrderType           string      `json:"Order_Type"`
	PaymentMethod       string      `json:"Payment_Method"`
	TransactionStatus   string      `json:"Transaction_Status"`
	Quantity            json.Number `json:"Quantity"`
	TotalAmount         json.Number `json:"Total_Amount"`
	DiscountApplied     json.Number `json:"Discount_Applied"`
	DeliveryTimeMin     json.Number `json:"Delivery_Time_Min"`
	CustomerRating      json.Number `json:"Customer_Rating"`
	InventoryLevel      json.Number `json:"Inventory_Level"`
}

// Reject is a record-shaped input the source could not turn into a Record
// (bad JSON, short CSV line). The engine counts these as malformed.
type Reject struct {
	Line int
	Err  error
}

// Batch is the result of one bulk fetch.
type Batch struct {
	// Name identifies the source artifact (file name or URL path); used for
	// the "already ingested" marker. Empty disables the marker.
	Name string

	Records []Record
	Rejects []Reject
}

// Source yields the transaction feed as a finite batch.
type Source interface {
	Fetch(ctx context.Context) (*Batch, error)
}
