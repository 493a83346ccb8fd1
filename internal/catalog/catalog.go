// Package catalog lists marketplace products alongside the cart.
package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

// Products reads the marketplace catalog.
type Products interface {
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id model.ID) (*model.Product, error)
}

// Cart is the part of the cart store used by the catalog.
type Cart interface {
	Quantity(id model.ID) int
	AddItem(ctx context.Context, p cart.ProductRef) []cart.LineItem
}

// Listing is a product with the quantity already in the cart.
type Listing struct {
	model.Product
	InCart int `json:"in_cart"`
}

// Service browses the catalog.
type Service struct {
	products Products
	cart     Cart
	logger   *zap.Logger
}

// NewService creates a new catalog Service.
func NewService(products Products, c Cart, logger *zap.Logger) *Service {
	return &Service{products: products, cart: c, logger: logger}
}

// Browse returns the products matching filter.
func (s *Service) Browse(ctx context.Context, filter model.ProductFilter) ([]Listing, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	products, err := s.products.ListProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	listings := make([]Listing, 0, len(products))
	for _, p := range products {
		listings = append(listings, Listing{Product: p, InCart: s.cart.Quantity(p.ID)})
	}

	s.logger.Debug("catalog browsed",
		zap.Int("products", len(listings)),
		zap.String("crop_type", filter.CropType),
	)

	return listings, nil
}

// AddToCart looks up the product and adds one unit of it to the cart.
func (s *Service) AddToCart(ctx context.Context, id model.ID) ([]cart.LineItem, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching product %s: %w", id, err)
	}

	return s.cart.AddItem(ctx, cart.FromProduct(*p)), nil
}
