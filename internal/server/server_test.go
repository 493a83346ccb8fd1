// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/auth"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/catalog"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/checkout"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/client"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/config"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/dashboard"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/handler"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/storage"
)

// testAuthenticator is a mock authenticator for server tests.
type testAuthenticator struct {
	principal *auth.Principal
	err       error
	method    auth.Method
}

func (a *testAuthenticator) Authenticate(_ *http.Request) (*auth.Principal, error) {
	return a.principal, a.err
}

func (a *testAuthenticator) Method() auth.Method {
	return a.method
}

func testConfig(port, probePort int, metrics bool) *config.Config {
	cfg := config.Default()
	cfg.ServerPort = port
	cfg.ProbePort = probePort
	cfg.MetricsEnabled = metrics
	cfg.StoragePath = storage.MemoryPath
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

// testDeps wires real components over in-memory storage. The marketplace
// address is unreachable, so upstream calls fail fast.
func testDeps(t *testing.T, authenticator auth.Authenticator) Deps {
	t.Helper()

	ctx := context.Background()
	logger := zap.NewNop()
	st := storage.NewMemoryStorage()
	sess := session.Load(ctx, st, logger)
	store := cart.New(ctx, st, logger)

	backend, err := client.New(client.Options{
		BaseURL: "http://127.0.0.1:1/api/",
		Timeout: time.Second,
		Tokens:  sess,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	return Deps{
		API: handler.Deps{
			Backend:   backend,
			Session:   sess,
			Cart:      store,
			Catalog:   catalog.NewService(backend, store, logger),
			Checkout:  checkout.NewService(backend, store, logger),
			Dashboard: dashboard.NewService(backend, sess, logger),
			Ready:     func(ctx context.Context) error { return storage.Ping(ctx, st) },
		},
		CartFeed:      store,
		SessionFeed:   sess,
		Authenticator: authenticator,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, authenticator auth.Authenticator) *Server {
	t.Helper()
	s := New(cfg, zap.NewNop(), testDeps(t, authenticator))
	t.Cleanup(s.wsHandler.CloseAllConnections)
	return s
}

func TestNew(t *testing.T) {
	// Arrange
	cfg := testConfig(8080, 0, true)

	// Act
	server := newTestServer(t, cfg, nil)

	// Assert
	if server == nil {
		t.Fatal("New() returned nil")
	}
	if server.router == nil {
		t.Error("router should not be nil")
	}
	if server.config == nil {
		t.Error("config should not be nil")
	}
	if server.httpServer == nil {
		t.Error("httpServer should not be nil")
	}
	if server.wsHandler == nil {
		t.Error("wsHandler should not be nil")
	}
	if server.authenticator != nil {
		t.Error("authenticator should be nil when not configured")
	}
}

func TestNew_Metrics(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		wantStatus int
	}{
		{name: "enabled", enabled: true, wantStatus: http.StatusOK},
		{name: "disabled", enabled: false, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			server := newTestServer(t, testConfig(8080, 0, tt.enabled), nil)
			rr := httptest.NewRecorder()

			// Act
			server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			// Assert
			if rr.Code != tt.wantStatus {
				t.Errorf("/metrics status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_Router(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)

	// Act & Assert
	if server.Router() != server.router {
		t.Error("Router() should return the server's router")
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	// Assert
	if rr.Code != http.StatusOK {
		t.Fatalf("Health status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp model.APIResponse[handler.HealthResponse]
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Data.Status != "healthy" {
		t.Errorf("Health response = %+v, want healthy", resp)
	}
}

func TestServer_CartEndpoints(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)

	// Act - add an explicit product, then read the badge count
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		strings.NewReader(`{"id":"7","name":"Tomato","price":"40"}`))
	rr := httptest.NewRecorder()
	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("add item status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart/count", nil))

	// Assert
	var resp model.APIResponse[handler.CountResponse]
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Data.Count)
	}
}

func TestServer_UpstreamUnavailable(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))

	// Assert
	if rr.Code != http.StatusBadGateway {
		t.Errorf("products status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestServer_WebSocketEndpoint(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)
	ts := httptest.NewServer(server.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// Act
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)

	// Assert
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("Status = %d, want %d", resp.StatusCode, http.StatusSwitchingProtocols)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != model.EventCartUpdated {
		t.Errorf("first event type = %q, want %q", ev.Type, model.EventCartUpdated)
	}
}

func TestServer_Shutdown(t *testing.T) {
	// Arrange
	cfg := testConfig(18090, 18091, false)
	server := newTestServer(t, cfg, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := server.Shutdown(ctx)

	// Assert
	if err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	select {
	case startErr := <-errCh:
		if startErr != nil {
			t.Errorf("Start() error = %v", startErr)
		}
	case <-time.After(5 * time.Second):
		t.Error("Start() did not return after Shutdown()")
	}
}

func TestServer_HTTPServerConfiguration(t *testing.T) {
	// Arrange
	cfg := testConfig(8080, 0, true)

	// Act
	server := newTestServer(t, cfg, nil)

	// Assert
	if server.httpServer.Addr != "127.0.0.1:8080" {
		t.Errorf("httpServer.Addr = %s, want 127.0.0.1:8080", server.httpServer.Addr)
	}
	if server.httpServer.ReadTimeout != 15*time.Second {
		t.Errorf("httpServer.ReadTimeout = %v, want 15s", server.httpServer.ReadTimeout)
	}
	if server.httpServer.ReadHeaderTimeout != 5*time.Second {
		t.Errorf("httpServer.ReadHeaderTimeout = %v, want 5s", server.httpServer.ReadHeaderTimeout)
	}
	if server.httpServer.WriteTimeout != 60*time.Second {
		t.Errorf("httpServer.WriteTimeout = %v, want 60s", server.httpServer.WriteTimeout)
	}
	if server.httpServer.MaxHeaderBytes != 1<<20 {
		t.Errorf("httpServer.MaxHeaderBytes = %d, want %d", server.httpServer.MaxHeaderBytes, 1<<20)
	}
}

func TestServer_MiddlewareApplied(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, req)

	// Assert
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set by middleware")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	// Arrange
	server := newTestServer(t, testConfig(8080, 0, true), nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart/items", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, req)

	// Assert
	if rr.Code != http.StatusNoContent {
		t.Errorf("Preflight status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
		t.Errorf("Access-Control-Allow-Methods = %q, want PATCH", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestNew_WithAuthenticator(t *testing.T) {
	// Arrange
	authenticator := &testAuthenticator{
		err:    auth.ErrUnauthenticated,
		method: auth.MethodBasic,
	}

	// Act
	server := newTestServer(t, testConfig(8080, 0, true), authenticator)

	// Assert
	if server.authenticator == nil {
		t.Error("authenticator should not be nil")
	}

	rr := httptest.NewRecorder()
	server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Protected endpoint status = %d, want %d when auth fails", rr.Code, http.StatusUnauthorized)
	}

	rr = httptest.NewRecorder()
	server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Health endpoint status = %d, want %d (public path)", rr.Code, http.StatusOK)
	}
}

func TestNew_WithAuthenticator_Success(t *testing.T) {
	// Arrange
	authenticator := &testAuthenticator{
		principal: &auth.Principal{Method: auth.MethodAPIKey, Subject: "cli"},
		method:    auth.MethodAPIKey,
	}
	server := newTestServer(t, testConfig(8080, 0, true), authenticator)
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	// Assert
	if rr.Code != http.StatusOK {
		t.Errorf("cart status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestNew_ProbeServer(t *testing.T) {
	tests := []struct {
		name      string
		probePort int
		wantProbe bool
	}{
		{name: "enabled", probePort: 9090, wantProbe: true},
		{name: "disabled", probePort: 0, wantProbe: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			server := newTestServer(t, testConfig(8080, tt.probePort, true), nil)

			// Assert
			if (server.probeServer != nil) != tt.wantProbe {
				t.Errorf("probeServer present = %v, want %v", server.probeServer != nil, tt.wantProbe)
			}
			if server.probeRouter == nil {
				t.Error("probeRouter should not be nil")
			}
			if tt.wantProbe && server.probeServer.Addr != "127.0.0.1:9090" {
				t.Errorf("probeServer.Addr = %s, want 127.0.0.1:9090", server.probeServer.Addr)
			}
		})
	}
}

func TestServer_ProbeRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		metrics    bool
		wantStatus int
	}{
		{name: "health", path: "/health", metrics: true, wantStatus: http.StatusOK},
		{name: "ready", path: "/ready", metrics: true, wantStatus: http.StatusOK},
		{name: "metrics", path: "/metrics", metrics: true, wantStatus: http.StatusOK},
		{name: "metrics disabled", path: "/metrics", metrics: false, wantStatus: http.StatusNotFound},
		{name: "api not exposed", path: "/api/v1/cart", metrics: true, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			authenticator := &testAuthenticator{err: auth.ErrUnauthenticated, method: auth.MethodBasic}
			server := newTestServer(t, testConfig(8080, 9090, tt.metrics), authenticator)
			rr := httptest.NewRecorder()

			// Act
			server.probeRouter.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			// Assert
			if rr.Code != tt.wantStatus {
				t.Errorf("%s status = %d, want %d", tt.path, rr.Code, tt.wantStatus)
			}
		})
	}
}
