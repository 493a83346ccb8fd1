package model

import (
	"errors"
	"math"
	"time"
)

// Validation errors for crop plans.
var (
	ErrEmptyCropVariety    = errors.New("crop variety cannot be empty")
	ErrInvalidPlantingDate = errors.New("planting date must use the YYYY-MM-DD format")
	ErrInvalidExpectedDate = errors.New("expected harvest date must use the YYYY-MM-DD format")
	ErrHarvestBeforePlant  = errors.New("expected harvest date cannot be before planting date")
)

// CropPlan is a farmer's planned planting with the collaborator's volume
// estimate.
type CropPlan struct {
	ID                  ID        `json:"id"`
	Farmer              ID        `json:"farmer,omitempty"`
	CropVariety         string    `json:"crop_variety"`
	PlantingDate        string    `json:"planting_date"`
	ExpectedHarvestDate string    `json:"expected_harvest_date"`
	EstimatedVolume     float64   `json:"estimated_volume"`
	CreatedAt           time.Time `json:"created_at,omitzero"`
}

// DaysUntilHarvest returns the number of days from now until the expected
// harvest date, rounded up. It is negative once the date has passed and zero
// when the date cannot be parsed.
func (c CropPlan) DaysUntilHarvest(now time.Time) int {
	harvest, err := time.ParseInLocation(DateLayout, c.ExpectedHarvestDate, now.Location())
	if err != nil {
		return 0
	}
	return int(math.Ceil(harvest.Sub(now).Hours() / 24))
}

// CropPlanInput is the payload for a new crop plan.
type CropPlanInput struct {
	CropVariety         string `json:"crop_variety"`
	PlantingDate        string `json:"planting_date"`
	ExpectedHarvestDate string `json:"expected_harvest_date"`
}

// Validate checks if the CropPlanInput has valid field values.
func (c *CropPlanInput) Validate() error {
	if c.CropVariety == "" {
		return ErrEmptyCropVariety
	}

	planting, err := time.Parse(DateLayout, c.PlantingDate)
	if err != nil {
		return ErrInvalidPlantingDate
	}

	harvest, err := time.Parse(DateLayout, c.ExpectedHarvestDate)
	if err != nil {
		return ErrInvalidExpectedDate
	}

	if harvest.Before(planting) {
		return ErrHarvestBeforePlant
	}

	return nil
}
