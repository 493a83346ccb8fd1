// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/auth"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/config"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/handler"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/middleware"
)

// Deps are the collaborators served by the gateway.
type Deps struct {
	API         handler.Deps
	CartFeed    handler.CartFeed
	SessionFeed handler.SessionFeed
	// Authenticator guards the gateway API; nil leaves it open.
	Authenticator auth.Authenticator
}

// Server represents the HTTP server.
type Server struct {
	httpServer    *http.Server
	probeServer   *http.Server
	router        *mux.Router
	probeRouter   *mux.Router
	config        *config.Config
	logger        *zap.Logger
	restHandler   *handler.RESTHandler
	wsHandler     *handler.WebSocketHandler
	authenticator auth.Authenticator
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		probeRouter:   mux.NewRouter(),
		config:        cfg,
		logger:        logger,
		authenticator: deps.Authenticator,
	}

	s.setupMiddleware()
	s.setupRoutes(deps)
	s.setupProbeRoutes()
	s.setupHTTPServer()

	return s
}

// setupMiddleware configures the middleware chain.
func (s *Server) setupMiddleware() {
	allowedMethods := []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
	allowedHeaders := []string{
		"Content-Type",
		"Authorization",
		auth.APIKeyHeader,
		middleware.RequestIDHeader,
	}

	// Apply middleware in order (first applied = outermost)
	s.router.Use(mux.MiddlewareFunc(middleware.Recovery(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.RequestID()))

	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}

	s.router.Use(mux.MiddlewareFunc(middleware.Logging(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.CORS(s.config.AllowedOrigins, allowedMethods, allowedHeaders)))

	if s.authenticator != nil {
		s.router.Use(mux.MiddlewareFunc(middleware.Auth(s.authenticator, s.logger)))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(deps Deps) {
	s.restHandler = handler.NewRESTHandler(deps.API, s.logger)
	s.restHandler.RegisterRoutes(s.router)

	s.wsHandler = handler.NewWebSocketHandler(deps.CartFeed, deps.SessionFeed, s.logger)
	s.wsHandler.RegisterRoutes(s.router)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	// Preflight requests must match a route for the middleware to answer them.
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// setupProbeRoutes configures the unauthenticated probe listener routes.
func (s *Server) setupProbeRoutes() {
	s.probeRouter.HandleFunc("/health", s.restHandler.HealthCheck).Methods(http.MethodGet)
	s.probeRouter.HandleFunc("/ready", s.restHandler.ReadyCheck).Methods(http.MethodGet)

	if s.config.MetricsEnabled {
		s.probeRouter.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// setupHTTPServer configures the HTTP servers.
func (s *Server) setupHTTPServer() {
	s.httpServer = newHTTPServer(s.config.Address(), s.router)

	if s.config.ProbePort > 0 {
		s.probeServer = newHTTPServer(s.config.ProbeAddress(), s.probeRouter)
	}
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Checkout and invoice downloads wait on the marketplace.
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
}

// Start starts the gateway API and, when configured, the probe listener.
// It returns when both have stopped.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		zap.String("address", s.config.Address()),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
		zap.Bool("auth_enabled", s.authenticator != nil),
	)

	var g errgroup.Group

	g.Go(func() error {
		return listen(s.httpServer, "server")
	})

	if s.probeServer != nil {
		s.logger.Info("starting probe server", zap.String("address", s.probeServer.Addr))
		g.Go(func() error {
			return listen(s.probeServer, "probe server")
		})
	}

	return g.Wait()
}

func listen(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listen and serve: %w", name, err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	// Close all WebSocket connections first
	if s.wsHandler != nil {
		s.wsHandler.CloseAllConnections()
	}

	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if s.probeServer != nil {
		if err := s.probeServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("probe server shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Router returns the server's router for testing purposes.
func (s *Server) Router() *mux.Router {
	return s.router
}
