package warehouse

import (
	"strings"
	"testing"
)

func fullKeyMaps() *keyMaps {
	return &keyMaps{
		product:  map[string]int64{"P-1": 1},
		customer: map[string]int64{"C-1": 2},
		staff:    map[string]int64{"S-1": 3},
		supplier: map[string]int64{"SUP-1": 4},
	}
}

func TestKeyMapsLookup(t *testing.T) {
	t.Parallel()

	p, rerr := prepare(validRecord("T-1"))
	if rerr != nil {
		t.Fatalf("prepare: %v", rerr)
	}

	productKey, customerKey, staffKey, supplierKey, lerr := fullKeyMaps().lookup(p)
	if lerr != nil {
		t.Fatalf("lookup: %v", lerr)
	}
	if productKey != 1 || customerKey != 2 || staffKey != 3 || supplierKey != 4 {
		t.Errorf("keys = (%d, %d, %d, %d), want (1, 2, 3, 4)",
			productKey, customerKey, staffKey, supplierKey)
	}
}

// A surrogate-key miss after flush means the member never landed in its
// dimension table. Inserting the fact row would leave a dangling key, so
// the record must bounce instead.
func TestKeyMapsLookupReferenceGap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		drop       func(*keyMaps)
		wantColumn string
	}{
		{"missing product", func(km *keyMaps) { delete(km.product, "P-1") }, "product_id"},
		{"missing customer", func(km *keyMaps) { delete(km.customer, "C-1") }, "customer_id"},
		{"missing staff", func(km *keyMaps) { delete(km.staff, "S-1") }, "staff_id"},
		{"missing supplier", func(km *keyMaps) { delete(km.supplier, "SUP-1") }, "supplier_id"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, rerr := prepare(validRecord("T-1"))
			if rerr != nil {
				t.Fatalf("prepare: %v", rerr)
			}
			km := fullKeyMaps()
			tt.drop(km)

			_, _, _, _, lerr := km.lookup(p)
			if lerr == nil {
				t.Fatal("lookup resolved a record with a missing dimension member")
			}
			if lerr.Reason != ReasonReferenceGap {
				t.Errorf("reason = %q, want %q", lerr.Reason, ReasonReferenceGap)
			}
			if lerr.TransactionID != "T-1" {
				t.Errorf("transaction id = %q, want T-1", lerr.TransactionID)
			}
			if !strings.Contains(lerr.Error(), tt.wantColumn) {
				t.Errorf("error %q does not name %s", lerr.Error(), tt.wantColumn)
			}
		})
	}
}
