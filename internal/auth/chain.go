package auth

import (
	"errors"
	"net/http"
)

// Chain tries each authenticator in order. A request that carries no
// credentials for one method falls through to the next; credentials that are
// present but wrong fail immediately.
type Chain struct {
	authenticators []Authenticator
}

// NewChain creates a Chain over authenticators.
func NewChain(authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators}
}

// Authenticate returns the first successful principal.
func (c *Chain) Authenticate(r *http.Request) (*Principal, error) {
	for _, a := range c.authenticators {
		p, err := a.Authenticate(r)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
	}

	return nil, ErrUnauthenticated
}

// Method returns MethodMulti.
func (c *Chain) Method() Method {
	return MethodMulti
}
