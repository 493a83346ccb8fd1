package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatus_Valid(t *testing.T) {
	for _, s := range OrderStatuses() {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}

	for _, s := range []OrderStatus{"", "pending", "SHIPPED"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestOrder_JSONUnmarshal(t *testing.T) {
	// Arrange
	body := `{
		"id": 12,
		"buyer": 4,
		"buyer_name": "asha",
		"total_amount": "120.50",
		"status": "PENDING",
		"created_at": "2026-06-01T10:00:00Z",
		"items": [{"id": 1, "product": 7, "product_name": "Tomato", "quantity": 3, "price": "40.17"}]
	}`

	// Act
	var o Order
	err := json.Unmarshal([]byte(body), &o)

	// Assert
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if o.ID != "12" {
		t.Errorf("ID = %q, want 12", o.ID)
	}
	if !o.TotalAmount.Equal(decimal.RequireFromString("120.50")) {
		t.Errorf("TotalAmount = %s", o.TotalAmount)
	}
	if len(o.Items) != 1 || o.Items[0].Product != "7" {
		t.Fatalf("Items = %+v", o.Items)
	}
	if got := o.Items[0].LineTotal(); !got.Equal(decimal.RequireFromString("120.51")) {
		t.Errorf("LineTotal() = %s, want 120.51", got)
	}
}
