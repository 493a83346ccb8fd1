package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/auth"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
)

// publicPaths are paths that don't require authentication.
var publicPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// Auth returns a middleware that authenticates callers of the gateway API.
// Public paths, CORS preflight requests and WebSocket upgrades are excluded.
func Auth(authenticator auth.Authenticator, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				setWWWAuthenticateHeader(w, err)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			logger.Debug("authentication successful",
				zap.String("subject", principal.Subject),
				zap.String("method", string(principal.Method)),
				zap.String("path", r.URL.Path),
			)

			noteCaller(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// Session is the view of the marketplace session used by the guards below.
type Session interface {
	Token() string
	Identity() session.Identity
}

// RequireSession rejects requests with 401 while nobody is logged in to the
// marketplace.
func RequireSession(sess Session) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess.Token() == "" {
				writeError(w, http.StatusUnauthorized, "login required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests with 403 unless the session has role. It
// implies RequireSession.
func RequireRole(sess Session, role model.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return RequireSession(sess)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess.Identity().Role != role {
				writeError(w, http.StatusForbidden, strings.ToLower(string(role))+" role required")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// isPublicPath matches exact public paths and their sub-paths, but not paths
// that merely share a prefix (/healthXXX is not public).
func isPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}

	for p := range publicPaths {
		if strings.HasPrefix(path, p+"/") {
			return true
		}
	}

	return false
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// writeError writes a JSON error body in the API's error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.NewErrorResponse[any](message))
}

// setWWWAuthenticateHeader advertises the scheme matching the failure.
func setWWWAuthenticateHeader(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Basic realm="agriconnect", API-Key`)
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", `Basic realm="agriconnect"`)
	case errors.Is(err, auth.ErrInvalidAPIKey):
		w.Header().Set("WWW-Authenticate", "API-Key")
	}
}
