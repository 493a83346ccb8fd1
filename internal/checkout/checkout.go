// Package checkout turns the cart into a placed order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/client"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

// Common errors.
var (
	ErrEmptyCart  = errors.New("cart is empty")
	ErrInProgress = errors.New("checkout already in progress")
)

// Checkout outcomes.
const (
	outcomePlaced   = "placed"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeEmpty    = "empty"
	outcomeBusy     = "busy"
)

var checkoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agriconnect_checkouts_total",
		Help: "Total number of checkout attempts by outcome",
	},
	[]string{"outcome"},
)

// OrderPlacer submits orders to the marketplace.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req model.PlaceOrderRequest) (*model.Order, error)
}

// Cart is the part of the cart store used by checkout.
type Cart interface {
	Items() []cart.LineItem
	Clear(ctx context.Context) []cart.LineItem
}

// Result describes an accepted order.
type Result struct {
	OrderID model.ID        `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
	Order   *model.Order    `json:"order,omitempty"`
}

// Service runs checkouts, one at a time.
type Service struct {
	orders   OrderPlacer
	cart     Cart
	logger   *zap.Logger
	inFlight atomic.Bool
}

// NewService creates a new checkout Service.
func NewService(orders OrderPlacer, c Cart, logger *zap.Logger) *Service {
	return &Service{
		orders: orders,
		cart:   c,
		logger: logger,
	}
}

// InProgress reports whether a checkout request is outstanding.
func (s *Service) InProgress() bool {
	return s.inFlight.Load()
}

// Checkout places an order for the current cart contents. The cart is cleared
// only when the order is accepted; on any failure it is left untouched.
func (s *Service) Checkout(ctx context.Context) (*Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		checkoutsTotal.WithLabelValues(outcomeBusy).Inc()
		return nil, ErrInProgress
	}
	defer s.inFlight.Store(false)

	items := s.cart.Items()
	if len(items) == 0 {
		checkoutsTotal.WithLabelValues(outcomeEmpty).Inc()
		return nil, ErrEmptyCart
	}

	subtotal := cart.Subtotal(items)
	req := OrderRequest(items)

	order, err := s.orders.PlaceOrder(ctx, req)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			checkoutsTotal.WithLabelValues(outcomeRejected).Inc()
			s.logger.Info("order rejected",
				zap.Int("status", apiErr.StatusCode),
				zap.String("reason", apiErr.Message),
				zap.Int("lines", len(req.Items)),
			)
		} else {
			checkoutsTotal.WithLabelValues(outcomeFailed).Inc()
			s.logger.Warn("order placement failed", zap.Error(err))
		}
		return nil, fmt.Errorf("placing order: %w", err)
	}

	s.cart.Clear(ctx)
	checkoutsTotal.WithLabelValues(outcomePlaced).Inc()

	result := &Result{Total: subtotal, Order: order}
	if order != nil {
		result.OrderID = order.ID
		if !order.TotalAmount.IsZero() {
			result.Total = order.TotalAmount
		}
	}

	s.logger.Info("order placed",
		zap.String("order_id", result.OrderID.String()),
		zap.String("total", result.Total.StringFixed(2)),
		zap.Int("lines", len(req.Items)),
	)

	return result, nil
}

// OrderRequest translates line items into an order placement body,
// preserving cart order.
func OrderRequest(items []cart.LineItem) model.PlaceOrderRequest {
	lines := make([]model.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, model.OrderLine{ProductID: item.ID, Quantity: item.Quantity})
	}
	return model.PlaceOrderRequest{Items: lines}
}
