package cart

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/storage"
)

// Prometheus metrics.
var (
	cartPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agriconnect_cart_persist_failures_total",
			Help: "Number of cart mutations that could not be written to storage",
		},
	)

	cartItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agriconnect_cart_items",
			Help: "Sum of line item quantities in the cart",
		},
	)
)

// Listener receives the cart contents after a mutation.
type Listener func(items []LineItem)

// Store is the authoritative cart of one session.
//
// Every mutation replaces the item slice with a new one and writes it to
// storage before returning. Storage failures are logged and never surface to
// the caller: the in-memory cart is always updated.
type Store struct {
	mu        sync.Mutex
	items     []LineItem
	storage   storage.Storage
	logger    *zap.Logger
	listeners map[int]Listener
	nextID    int
}

// New loads the persisted cart. Missing or malformed data yields an empty cart.
func New(ctx context.Context, st storage.Storage, logger *zap.Logger) *Store {
	s := &Store{
		items:     []LineItem{},
		storage:   st,
		logger:    logger,
		listeners: make(map[int]Listener),
	}

	data, err := st.Get(ctx, storage.KeyCart)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Debug("no persisted cart, starting empty")
	case err != nil:
		logger.Warn("failed to read persisted cart, starting empty", zap.Error(err))
	default:
		items, decodeErr := Decode(data)
		if decodeErr != nil {
			logger.Warn("discarding malformed persisted cart", zap.Error(decodeErr))
			break
		}
		s.items = items
	}

	cartItems.Set(float64(Count(s.items)))
	logger.Info("cart loaded",
		zap.Int("line_items", len(s.items)),
		zap.Int("item_count", Count(s.items)),
	)

	return s
}

// Items returns a copy of the line items in insertion order.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.items)
}

// ItemCount returns the sum of all quantities.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Count(s.items)
}

// Subtotal returns the sum of price times quantity over all line items.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Subtotal(s.items)
}

// Quantity returns the quantity held for id, or 0.
func (s *Store) Quantity(id model.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := indexOf(s.items, id); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

// AddItem increments the quantity of the matching line item or appends a new
// one with quantity 1.
func (s *Store) AddItem(ctx context.Context, p ProductRef) []LineItem {
	return s.mutate(ctx, "add", func(items []LineItem) []LineItem {
		if i := indexOf(items, p.ID); i >= 0 {
			next := slices.Clone(items)
			next[i].Quantity++
			return next
		}

		return append(slices.Clone(items), LineItem{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Image:    p.Image,
			Quantity: 1,
		})
	})
}

// RemoveItem deletes the line item for id. An absent id is a no-op.
func (s *Store) RemoveItem(ctx context.Context, id model.ID) []LineItem {
	return s.mutate(ctx, "remove", func(items []LineItem) []LineItem {
		return slices.DeleteFunc(slices.Clone(items), func(li LineItem) bool {
			return li.ID == id
		})
	})
}

// UpdateQuantity adds delta to the quantity of the line item for id. The item
// is removed once its quantity drops to zero or below. An absent id is a no-op.
// The quantity saturates at math.MaxInt.
func (s *Store) UpdateQuantity(ctx context.Context, id model.ID, delta int) []LineItem {
	return s.mutate(ctx, "update_quantity", func(items []LineItem) []LineItem {
		i := indexOf(items, id)
		if i < 0 {
			return slices.Clone(items)
		}

		next := slices.Clone(items)
		if delta > 0 && next[i].Quantity > math.MaxInt-delta {
			next[i].Quantity = math.MaxInt
		} else {
			next[i].Quantity += delta
		}
		if next[i].Quantity <= 0 {
			next = slices.Delete(next, i, i+1)
		}
		return next
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) []LineItem {
	return s.mutate(ctx, "clear", func(_ []LineItem) []LineItem {
		return []LineItem{}
	})
}

// Subscribe registers fn to run after every mutation, in mutation order.
// Listeners must not call back into the Store.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// mutate swaps in the result of fn, persists it and notifies listeners.
func (s *Store) mutate(ctx context.Context, op string, fn func([]LineItem) []LineItem) []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.items)
	s.items = next
	count := Count(next)

	s.persist(ctx, op, next)
	cartItems.Set(float64(count))

	s.logger.Debug("cart updated",
		zap.String("operation", op),
		zap.Int("line_items", len(next)),
		zap.Int("item_count", count),
	)

	for _, fn := range s.listeners {
		fn(slices.Clone(next))
	}

	return slices.Clone(next)
}

// persist writes items to storage, logging instead of failing. The write
// outlives the caller's context: the in-memory cart has already changed.
func (s *Store) persist(ctx context.Context, op string, items []LineItem) {
	data, err := Encode(items)
	if err == nil {
		err = s.storage.Set(context.WithoutCancel(ctx), storage.KeyCart, data)
	}

	if err != nil {
		cartPersistFailures.Inc()
		s.logger.Error("failed to persist cart",
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}

func indexOf(items []LineItem, id model.ID) int {
	return slices.IndexFunc(items, func(li LineItem) bool {
		return li.ID == id
	})
}
