// Package cart implements the client-side cart: an ordered list of line items
// kept in memory and mirrored to local storage after every mutation.
package cart

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

// LineItem is one product entry in the cart with its aggregated quantity.
type LineItem struct {
	ID       model.ID        `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    *string         `json:"image"`
	Quantity int             `json:"quantity"`
}

// LineTotal returns price multiplied by quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Count returns the sum of quantities over items.
func Count(items []LineItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// Subtotal returns the sum of line totals over items.
func Subtotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ProductRef carries the product fields a line item is created from.
type ProductRef struct {
	ID    model.ID        `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image *string         `json:"image"`
}

// FromProduct builds a ProductRef from a catalog product.
func FromProduct(p model.Product) ProductRef {
	return ProductRef{
		ID:    p.ID,
		Name:  p.Name,
		Price: p.Price,
		Image: p.ImageURL,
	}
}

// record is the persisted form. Older clients stored whole catalog products,
// so the image may sit under image_url instead of image.
type record struct {
	ID       model.ID        `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    *string         `json:"image"`
	ImageURL *string         `json:"image_url"`
	Quantity int             `json:"quantity"`
}

// Encode serializes items for storage.
func Encode(items []LineItem) (string, error) {
	if items == nil {
		items = []LineItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding cart: %w", err)
	}

	return string(data), nil
}

// Decode parses a persisted cart. Records without an id or with a
// non-positive quantity are dropped and duplicate ids are merged, so the
// result always satisfies the one-line-per-product invariant.
func Decode(data string) ([]LineItem, error) {
	var records []record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("decoding cart: %w", err)
	}

	items := make([]LineItem, 0, len(records))
	index := make(map[model.ID]int, len(records))

	for _, r := range records {
		if r.ID.IsZero() || r.Quantity <= 0 {
			continue
		}

		if i, seen := index[r.ID]; seen {
			items[i].Quantity += r.Quantity
			continue
		}

		image := r.Image
		if image == nil {
			image = r.ImageURL
		}

		index[r.ID] = len(items)
		items = append(items, LineItem{
			ID:       r.ID,
			Name:     r.Name,
			Price:    r.Price,
			Image:    image,
			Quantity: r.Quantity,
		})
	}

	return items, nil
}
