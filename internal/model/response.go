package model

import "time"

// APIResponse is a generic wrapper for API responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error API response.
func NewErrorResponse[T any](errMsg string) APIResponse[T] {
	return APIResponse[T]{
		Success: false,
		Error:   errMsg,
	}
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Event types pushed over the WebSocket channel.
const (
	EventCartUpdated    = "cart_updated"
	EventSessionChanged = "session_changed"
	EventError          = "error"
)

// Event is a message pushed to connected views.
type Event struct {
	Type          string    `json:"type"`
	Count         *int      `json:"count,omitempty"`
	Username      string    `json:"username,omitempty"`
	Role          Role      `json:"role,omitempty"`
	Authenticated *bool     `json:"authenticated,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewCartEvent creates a cart badge update.
func NewCartEvent(count int) Event {
	return Event{
		Type:      EventCartUpdated,
		Count:     &count,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionEvent creates a session refresh signal.
func NewSessionEvent(username string, role Role, authenticated bool) Event {
	return Event{
		Type:          EventSessionChanged,
		Username:      username,
		Role:          role,
		Authenticated: &authenticated,
		Timestamp:     time.Now().UTC(),
	}
}
