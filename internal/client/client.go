// Package client talks to the marketplace backend over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Default client settings.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "agriconnect-gateway"
	maxErrorBody     = 64 << 10
)

// RequestIDHeader is forwarded upstream for log correlation.
const RequestIDHeader = "X-Request-ID"

// Prometheus metrics.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agriconnect_upstream_requests_total",
			Help: "Total number of requests sent to the marketplace backend",
		},
		[]string{"operation", "status"},
	)

	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agriconnect_upstream_request_duration_seconds",
			Help:    "Marketplace backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// TokenSource supplies the session token sent with each request.
type TokenSource interface {
	Token() string
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	Tokens     TokenSource
	RequestID  func(ctx context.Context) string
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Client is the marketplace backend client.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	tokens    TokenSource
	requestID func(ctx context.Context) string
	logger    *zap.Logger
}

// New creates a Client. The base URL must be absolute; a trailing slash is
// added so that relative endpoint paths resolve beneath it.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute: %q", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:      base,
		http:      httpClient,
		userAgent: userAgent,
		tokens:    opts.Tokens,
		requestID: opts.RequestID,
		logger:    logger,
	}, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// call describes one request to the collaborator.
type call struct {
	operation string
	method    string
	path      string
	query     url.Values
	body      any
}

// do sends the request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrUnavailable, cl.operation, err)
	}

	return nil
}

// send performs the request and converts non-2xx answers into *APIError. On
// success the caller owns the response body.
func (c *Client) send(ctx context.Context, cl call) (*http.Response, error) {
	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	upstreamRequestDuration.WithLabelValues(cl.operation).Observe(time.Since(start).Seconds())

	if err != nil {
		upstreamRequestsTotal.WithLabelValues(cl.operation, "error").Inc()
		c.logger.Warn("marketplace request failed",
			zap.String("operation", cl.operation),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, cl.operation, err)
	}

	upstreamRequestsTotal.WithLabelValues(cl.operation, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("marketplace request",
		zap.String("operation", cl.operation),
		zap.String("method", cl.method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	ref, err := url.Parse(cl.path)
	if err != nil {
		return nil, fmt.Errorf("parsing path %q: %w", cl.path, err)
	}
	target := c.base.ResolveReference(ref)
	if len(cl.query) > 0 {
		target.RawQuery = cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", cl.operation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", cl.operation, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Token "+token)
		}
	}
	if c.requestID != nil {
		if id := c.requestID(ctx); id != "" {
			req.Header.Set(RequestIDHeader, id)
		}
	}

	return req, nil
}

// attachmentName returns the filename from a Content-Disposition header.
func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
