package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment stage of an order.
type OrderStatus string

// Order statuses in fulfilment order.
const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusPacked         OrderStatus = "PACKED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
)

// ErrInvalidStatus is returned for a status outside the known set.
var ErrInvalidStatus = errors.New(
	"status must be one of: PENDING, CONFIRMED, PACKED, OUT_FOR_DELIVERY, COMPLETED",
)

// OrderStatuses lists every status in fulfilment order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusPacked,
		OrderStatusOutForDelivery,
		OrderStatusCompleted,
	}
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Order is a placed order as reported by the collaborator.
type Order struct {
	ID          ID              `json:"id"`
	Buyer       ID              `json:"buyer,omitempty"`
	BuyerName   string          `json:"buyer_name,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at,omitzero"`
	Items       []OrderItem     `json:"items"`
}

// OrderItem is one product line of an order with the price captured at
// purchase time.
type OrderItem struct {
	ID          ID              `json:"id,omitempty"`
	Product     ID              `json:"product"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// LineTotal returns price multiplied by quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderLine is a single entry of an order placement request.
type OrderLine struct {
	ProductID ID  `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// PlaceOrderRequest is the body sent to the order placement endpoint.
type PlaceOrderRequest struct {
	Items []OrderLine `json:"items"`
}

// StatusUpdate is the body of an order status change.
type StatusUpdate struct {
	Status OrderStatus `json:"status"`
}
