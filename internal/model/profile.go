package model

import "errors"

// SoilType classifies a farm's soil.
type SoilType string

// Known soil types.
const (
	SoilSilt  SoilType = "SILT"
	SoilClay  SoilType = "CLAY"
	SoilLoam  SoilType = "LOAM"
	SoilSandy SoilType = "SANDY"
	SoilPeat  SoilType = "PEAT"
	SoilChalk SoilType = "CHALK"
)

// Validation errors for profiles.
var (
	ErrInvalidSoilType   = errors.New("soil type must be one of: SILT, CLAY, LOAM, SANDY, PEAT, CHALK")
	ErrNegativeLandSize  = errors.New("land size cannot be negative")
	ErrInvalidCoordinate = errors.New("latitude must be within [-90, 90] and longitude within [-180, 180]")
)

// Valid reports whether s is empty or a known soil type.
func (s SoilType) Valid() bool {
	switch s {
	case "", SoilSilt, SoilClay, SoilLoam, SoilSandy, SoilPeat, SoilChalk:
		return true
	default:
		return false
	}
}

// Profile holds the farm attributes of the logged-in user.
type Profile struct {
	LandSize  *float64 `json:"land_size"`
	Location  *string  `json:"location"`
	SoilType  SoilType `json:"soil_type,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Validate checks if the Profile has valid field values.
func (p *Profile) Validate() error {
	if !p.SoilType.Valid() {
		return ErrInvalidSoilType
	}

	if p.LandSize != nil && *p.LandSize < 0 {
		return ErrNegativeLandSize
	}

	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return ErrInvalidCoordinate
	}

	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return ErrInvalidCoordinate
	}

	return nil
}
