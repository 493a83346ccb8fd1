package model

import "errors"

// Role is the marketplace role of a user.
type Role string

// Marketplace roles.
const (
	RoleFarmer Role = "FARMER"
	RoleBuyer  Role = "BUYER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleBuyer
}

// Validation errors for accounts.
var (
	ErrEmptyUsername = errors.New("username cannot be empty")
	ErrEmptyPassword = errors.New("password cannot be empty")
	ErrInvalidRole   = errors.New("role must be one of: FARMER, BUYER")
)

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks that both fields are present.
func (c *Credentials) Validate() error {
	if c.Username == "" {
		return ErrEmptyUsername
	}
	if c.Password == "" {
		return ErrEmptyPassword
	}
	return nil
}

// LoginResult is the collaborator's answer to a successful login.
type LoginResult struct {
	Token    string   `json:"token"`
	UserID   ID       `json:"user_id,omitempty"`
	Username string   `json:"username"`
	Role     Role     `json:"role"`
	LandSize *float64 `json:"land_size,omitempty"`
	Location *string  `json:"location,omitempty"`
	SoilType SoilType `json:"soil_type,omitempty"`
}

// SignupRequest is the account registration body.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// Validate checks required fields and defaults the role to BUYER.
func (s *SignupRequest) Validate() error {
	if s.Username == "" {
		return ErrEmptyUsername
	}

	if s.Password == "" {
		return ErrEmptyPassword
	}

	if s.Role == "" {
		s.Role = RoleBuyer
	}

	if !s.Role.Valid() {
		return ErrInvalidRole
	}

	return nil
}

// User is a registered account.
type User struct {
	ID       ID       `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Profile  *Profile `json:"profile,omitempty"`
}
