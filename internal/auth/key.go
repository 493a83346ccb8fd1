package auth

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the gateway API key.
const APIKeyHeader = "X-API-Key"

// KeyAuthenticator accepts requests bearing one of the configured keys.
type KeyAuthenticator struct {
	keys map[string]string // key -> caller name
}

// NewKeyAuthenticator parses a "key1:name1,key2:name2" list.
func NewKeyAuthenticator(config string) (*KeyAuthenticator, error) {
	keys, err := parsePairs("apikey auth", config)
	if err != nil {
		return nil, err
	}
	return &KeyAuthenticator{keys: keys}, nil
}

// Authenticate compares the presented key against every configured key in
// constant time.
func (a *KeyAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return nil, ErrUnauthenticated
	}

	var subject string
	for key, name := range a.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			subject = name
		}
	}

	if subject == "" {
		return nil, ErrInvalidAPIKey
	}

	return &Principal{Method: MethodAPIKey, Subject: subject}, nil
}

// Method returns MethodAPIKey.
func (a *KeyAuthenticator) Method() Method {
	return MethodAPIKey
}
