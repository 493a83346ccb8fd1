package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned by HashPassword for an empty input.
var ErrEmptyPassword = errors.New("password must not be empty")

// PasswordAuthenticator checks HTTP Basic credentials against bcrypt hashes.
type PasswordAuthenticator struct {
	users map[string]string // username -> bcrypt hash
}

// NewPasswordAuthenticator parses a "user1:hash1,user2:hash2" list.
func NewPasswordAuthenticator(config string) (*PasswordAuthenticator, error) {
	users, err := parsePairs("basic auth", config)
	if err != nil {
		return nil, err
	}

	for user, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("basic auth: user %q: not a bcrypt hash: %w", user, err)
		}
	}

	return &PasswordAuthenticator{users: users}, nil
}

// Authenticate verifies the Basic credentials of r.
func (a *PasswordAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, ErrUnauthenticated
	}

	hash, exists := a.users[username]
	if !exists {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	}

	return &Principal{Method: MethodBasic, Subject: username}, nil
}

// Method returns MethodBasic.
func (a *PasswordAuthenticator) Method() Method {
	return MethodBasic
}

// HashPassword returns the bcrypt hash of password for use in the users list.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(hash), nil
}
