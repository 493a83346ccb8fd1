// Package auth guards the local gateway API so that only trusted local
// processes can drive the marketplace session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Method identifies how a caller proved its identity.
type Method string

const (
	// MethodNone disables access control.
	MethodNone Method = "none"
	// MethodBasic is HTTP Basic with bcrypt-hashed passwords.
	MethodBasic Method = "basic"
	// MethodAPIKey is a shared key in the X-API-Key header.
	MethodAPIKey Method = "apikey"
	// MethodMulti accepts any of the configured methods.
	MethodMulti Method = "multi"
)

// Principal is the authenticated caller of the gateway API.
type Principal struct {
	Method  Method
	Subject string
}

// Authenticator validates a request and returns its principal.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
	Method() Method
}

// Sentinel errors for authentication failures.
var (
	ErrUnauthenticated    = errors.New("unauthenticated: no credentials provided")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type contextKey string

const principalKey contextKey = "principal"

// FromContext retrieves the Principal stored by the auth middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// parsePairs parses "left:right,left:right" lists. Blank entries are
// skipped; only the first colon separates the halves.
func parsePairs(kind, config string) (map[string]string, error) {
	trimmed := strings.TrimSpace(config)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: config must not be empty", kind)
	}

	pairs := make(map[string]string)
	for _, entry := range strings.Split(trimmed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		left, right, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("%s: invalid entry format, expected a colon-separated pair", kind)
		}

		left = strings.TrimSpace(left)
		right = strings.TrimSpace(right)
		if left == "" || right == "" {
			return nil, fmt.Errorf("%s: both halves of an entry must be non-empty", kind)
		}

		pairs[left] = right
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%s: no valid entries found", kind)
	}

	return pairs, nil
}
