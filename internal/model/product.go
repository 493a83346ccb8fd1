package model

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used by the collaborator.
const DateLayout = "2006-01-02"

// Validation errors for products.
var (
	ErrEmptyName          = errors.New("name cannot be empty")
	ErrNameTooLong        = errors.New("name cannot exceed 200 characters")
	ErrEmptyDescription   = errors.New("description cannot be empty")
	ErrNegativePrice      = errors.New("price cannot be negative")
	ErrNegativeStock      = errors.New("stock cannot be negative")
	ErrInvalidHarvestDate = errors.New("harvest date must use the YYYY-MM-DD format")
	ErrNegativeDistance   = errors.New("max distance cannot be negative")
)

// MaxNameLength mirrors the collaborator's column width for product names.
const MaxNameLength = 200

// Product is a catalog listing published by a farmer.
type Product struct {
	ID             ID              `json:"id"`
	Farmer         ID              `json:"farmer,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	Stock          int             `json:"stock"`
	ImageURL       *string         `json:"image_url"`
	CropType       string          `json:"crop_type,omitempty"`
	HarvestDate    string          `json:"harvest_date,omitempty"`
	FarmerLocation string          `json:"farmer_location,omitempty"`
	CreatedAt      time.Time       `json:"created_at,omitzero"`
}

// ProductInput is the payload a farmer submits to create or update a listing.
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    *string         `json:"image_url"`
	CropType    string          `json:"crop_type,omitempty"`
	HarvestDate string          `json:"harvest_date,omitempty"`
}

// Validate checks if the ProductInput has valid field values.
func (p *ProductInput) Validate() error {
	if p.Name == "" {
		return ErrEmptyName
	}

	if len(p.Name) > MaxNameLength {
		return ErrNameTooLong
	}

	if p.Description == "" {
		return ErrEmptyDescription
	}

	if p.Price.IsNegative() {
		return ErrNegativePrice
	}

	if p.Stock < 0 {
		return ErrNegativeStock
	}

	if p.HarvestDate != "" {
		if _, err := time.Parse(DateLayout, p.HarvestDate); err != nil {
			return ErrInvalidHarvestDate
		}
	}

	return nil
}

// ProductFilter narrows a catalog listing. Zero-valued fields are omitted.
type ProductFilter struct {
	MaxDistance *float64
	CropType    string
	HarvestDate string
	Role        Role
}

// Validate checks the filter before it is sent upstream.
func (f ProductFilter) Validate() error {
	if f.MaxDistance != nil && *f.MaxDistance < 0 {
		return ErrNegativeDistance
	}

	if f.HarvestDate != "" {
		if _, err := time.Parse(DateLayout, f.HarvestDate); err != nil {
			return ErrInvalidHarvestDate
		}
	}

	return nil
}

// Query encodes the filter as URL query parameters.
func (f ProductFilter) Query() url.Values {
	q := url.Values{}

	if f.MaxDistance != nil {
		q.Set("max_distance", strconv.FormatFloat(*f.MaxDistance, 'f', -1, 64))
	}
	if f.CropType != "" {
		q.Set("crop_type", f.CropType)
	}
	if f.HarvestDate != "" {
		q.Set("harvest_date", f.HarvestDate)
	}
	if f.Role != "" {
		q.Set("role", string(f.Role))
	}

	return q
}
