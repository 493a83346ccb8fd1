//go:build functional

// Package functional provides functional tests for the gateway REST API and
// WebSocket feed running against an in-process marketplace.
package functional

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
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
	"github.com/vyrodovalexey/agriconnect-gateway/internal/server"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/storage"
)

// Environment variable names for test configuration.
const (
	EnvTestServerHost    = "TEST_SERVER_HOST"
	EnvTestTimeout       = "TEST_TIMEOUT"
	EnvTestMetricsEnable = "TEST_METRICS_ENABLED"
)

// Default test configuration values.
const (
	DefaultTestHost         = "127.0.0.1"
	DefaultTestTimeout      = 30 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultWebSocketTimeout = 10 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
	DefaultMetricsEnabled   = false
)

// TestConfig holds test configuration loaded from environment.
type TestConfig struct {
	Host           string
	Timeout        time.Duration
	MetricsEnabled bool
}

// LoadTestConfig loads test configuration from environment variables.
func LoadTestConfig() *TestConfig {
	cfg := &TestConfig{
		Host:           DefaultTestHost,
		Timeout:        DefaultTestTimeout,
		MetricsEnabled: DefaultMetricsEnabled,
	}

	if host := os.Getenv(EnvTestServerHost); host != "" {
		cfg.Host = host
	}

	if timeoutStr := os.Getenv(EnvTestTimeout); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	if metricsStr := os.Getenv(EnvTestMetricsEnable); metricsStr != "" {
		if enabled, err := strconv.ParseBool(metricsStr); err == nil {
			cfg.MetricsEnabled = enabled
		}
	}

	return cfg
}

// Marketplace is an in-process marketplace backend.
type Marketplace struct {
	mu       sync.Mutex
	products map[string]model.Product
	orders   []model.Order
	nextID   int

	// StockError, when set, rejects every order with this message.
	StockError string
}

// NewMarketplace creates a marketplace with two products and starts it.
func NewMarketplace(t *testing.T) (*Marketplace, string) {
	t.Helper()

	m := &Marketplace{
		products: map[string]model.Product{
			"7": {ID: "7", Name: "Tomato", Price: decimal.NewFromInt(40), Stock: 10, CropType: "Vegetable"},
			"9": {ID: "9", Name: "Maize", Price: decimal.RequireFromString("22.50"), Stock: 100, CropType: "Grain"},
		},
		nextID: 100,
	}

	srv := httptest.NewServer(m.routes())
	t.Cleanup(srv.Close)

	return m, srv.URL + "/api/"
}

// Orders returns the orders placed so far.
func (m *Marketplace) Orders() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Order(nil), m.orders...)
}

// SetStockError makes subsequent orders fail with msg.
func (m *Marketplace) SetStockError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StockError = msg
}

func (m *Marketplace) routes() http.Handler {
	mx := http.NewServeMux()

	mx.HandleFunc("POST /api/login/", func(w http.ResponseWriter, r *http.Request) {
		var creds model.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		role := model.RoleBuyer
		if creds.Username == "fern" {
			role = model.RoleFarmer
		}
		if creds.Password != "pw" {
			reply(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"Invalid credentials"}})
			return
		}
		reply(w, http.StatusOK, model.LoginResult{Token: "tok-" + creds.Username, Username: creds.Username, Role: role})
	})

	mx.HandleFunc("GET /api/products/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		cropType := r.URL.Query().Get("crop_type")
		out := []model.Product{}
		for _, id := range []string{"7", "9"} {
			if p := m.products[id]; cropType == "" || p.CropType == cropType {
				out = append(out, p)
			}
		}
		reply(w, http.StatusOK, out)
	})

	mx.HandleFunc("GET /api/products/{id}/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.products[r.PathValue("id")]
		if !ok {
			reply(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}
		reply(w, http.StatusOK, p)
	})

	mx.HandleFunc("POST /api/orders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			reply(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}

		var req model.PlaceOrderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.StockError != "" {
			reply(w, http.StatusBadRequest, map[string]string{"error": m.StockError})
			return
		}

		order := model.Order{ID: model.ID(strconv.Itoa(m.nextID)), Status: model.OrderStatusPending}
		m.nextID++
		for _, line := range req.Items {
			p := m.products[line.ProductID.String()]
			order.Items = append(order.Items, model.OrderItem{
				Product: line.ProductID, ProductName: p.Name, Quantity: line.Quantity, Price: p.Price,
			})
			order.TotalAmount = order.TotalAmount.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		m.orders = append(m.orders, order)
		reply(w, http.StatusCreated, order)
	})

	mx.HandleFunc("GET /api/orders/", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, m.Orders())
	})

	return mx
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestServer wraps the gateway for testing purposes.
type TestServer struct {
	Server      *server.Server
	Marketplace *Marketplace
	Cart        *cart.Store
	Session     *session.Session
	BaseURL     string
	WSURL       string
	Port        int
	t           *testing.T
	mu          sync.Mutex
	started     bool
}

// NewTestServer creates a gateway in front of a fresh marketplace.
func NewTestServer(t *testing.T) *TestServer {
	return NewTestServerWithAuth(t, "none", "", "")
}

// NewTestServerWithAuth creates a gateway with the given access control mode.
func NewTestServerWithAuth(t *testing.T, mode, basicUsers, apiKeys string) *TestServer {
	t.Helper()

	testCfg := LoadTestConfig()
	port := freePort(t, testCfg.Host)
	market, marketURL := NewMarketplace(t)

	cfg := config.Default()
	cfg.ServerHost = testCfg.Host
	cfg.ServerPort = port
	cfg.ShutdownTimeout = DefaultShutdownTimeout
	cfg.MetricsEnabled = testCfg.MetricsEnabled
	cfg.APIBaseURL = marketURL
	cfg.StoragePath = storage.MemoryPath
	cfg.AuthMode = mode
	cfg.BasicAuthUsers = basicUsers
	cfg.APIKeys = apiKeys
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	logger := zap.NewNop()
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	sess := session.Load(ctx, st, logger)
	store := cart.New(ctx, st, logger)

	backend, err := client.New(client.Options{BaseURL: cfg.APIBaseURL, Tokens: sess, Logger: logger})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	var authenticator auth.Authenticator
	switch mode {
	case "basic":
		authenticator, err = auth.NewPasswordAuthenticator(basicUsers)
	case "apikey":
		authenticator, err = auth.NewKeyAuthenticator(apiKeys)
	}
	if err != nil {
		t.Fatalf("creating authenticator: %v", err)
	}

	srv := server.New(cfg, logger, server.Deps{
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
	})

	return &TestServer{
		Server:      srv,
		Marketplace: market,
		Cart:        store,
		Session:     sess,
		BaseURL:     fmt.Sprintf("http://%s", cfg.Address()),
		WSURL:       fmt.Sprintf("ws://%s/ws", cfg.Address()),
		Port:        port,
		t:           t,
	}
}

func freePort(t *testing.T, host string) int {
	t.Helper()

	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		t.Fatalf("Failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

// Start starts the test server.
func (ts *TestServer) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return
	}

	go func() {
		if err := ts.Server.Start(); err != nil {
			ts.t.Logf("Server error: %v", err)
		}
	}()

	ts.waitForReady()
	ts.started = true
	ts.t.Cleanup(ts.Stop)
}

// waitForReady waits for the server to be ready to accept connections.
func (ts *TestServer) waitForReady() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ts.t.Fatalf("Server did not become ready within timeout")
		case <-ticker.C:
			resp, err := http.Get(ts.BaseURL + "/health")
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return
				}
			}
		}
	}
}

// Stop stops the test server.
func (ts *TestServer) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := ts.Server.Shutdown(ctx); err != nil {
		ts.t.Logf("Server shutdown error: %v", err)
	}

	ts.started = false
}

// HTTPClient provides a configured HTTP client for tests.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

// NewHTTPClient creates a new HTTP client for testing.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: DefaultRequestTimeout},
		baseURL: baseURL,
		headers: map[string]string{},
	}
}

// WithHeader returns a copy of the client that sends key on every request.
func (c *HTTPClient) WithHeader(key, value string) *HTTPClient {
	cp := *c
	cp.headers = map[string]string{key: value}
	for k, v := range c.headers {
		if k != key {
			cp.headers[k] = v
		}
	}
	return &cp
}

// Response represents an HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Do executes an HTTP request and returns the response.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
}

// MustDo executes a request and fails the test on transport errors.
func (c *HTTPClient) MustDo(t *testing.T, method, path string, body any) *Response {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// APIResponse represents a generic API response structure.
type APIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CartResponse is the cart view returned by the gateway.
type CartResponse struct {
	Items []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// ParseAPIResponse parses an API response from bytes.
func ParseAPIResponse(t *testing.T, resp *Response) *APIResponse {
	t.Helper()

	var out APIResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		t.Fatalf("failed to parse API response %q: %v", resp.Body, err)
	}
	return &out
}

// ParseData decodes the data of a successful response into v.
func ParseData(t *testing.T, resp *Response, v any) {
	t.Helper()

	apiResp := ParseAPIResponse(t, resp)
	AssertSuccess(t, apiResp)
	if err := json.Unmarshal(apiResp.Data, v); err != nil {
		t.Fatalf("failed to parse data %q: %v", apiResp.Data, err)
	}
}

// AssertStatusCode asserts that the response has the expected status code.
func AssertStatusCode(t *testing.T, resp *Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d. Body: %s", expected, resp.StatusCode, string(resp.Body))
	}
}

// AssertSuccess asserts that the API response indicates success.
func AssertSuccess(t *testing.T, apiResp *APIResponse) {
	t.Helper()
	if !apiResp.Success {
		t.Errorf("Expected success=true, got false. Error: %s", apiResp.Error)
	}
}

// AssertError asserts that the API response is an error with message.
func AssertError(t *testing.T, apiResp *APIResponse, message string) {
	t.Helper()
	if apiResp.Success {
		t.Error("Expected success=false, got true")
	}
	if apiResp.Error != message {
		t.Errorf("Expected error %q, got %q", message, apiResp.Error)
	}
}

// LogTestStart logs the start of a test.
func LogTestStart(t *testing.T, testID, testName string) {
	t.Helper()
	t.Logf("Starting test %s: %s", testID, testName)
}

// LogTestEnd logs the end of a test.
func LogTestEnd(t *testing.T, testID string) {
	t.Helper()
	t.Logf("Completed test %s", testID)
}
