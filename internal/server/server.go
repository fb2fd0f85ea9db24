package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/codequerydev/codequery/internal/cache"
	"github.com/codequerydev/codequery/internal/config"
	"github.com/codequerydev/codequery/internal/forward"
	"github.com/codequerydev/codequery/internal/handler"
	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/openapi"
	"github.com/codequerydev/codequery/internal/server/middleware"
	"github.com/codequerydev/codequery/internal/service"
	"github.com/codequerydev/codequery/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	MaxBodySize       int64 // bytes
	APIKeyHeader      string
	GenerateRateLimit int
	ReadyTimeout      time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return ConfigFromSettings(config.DefaultSettings())
}

// ConfigFromSettings extracts the server configuration from s.
func ConfigFromSettings(s *config.Settings) Config {
	return Config{
		Host:              s.Server.Host,
		Port:              s.Server.Port,
		ShutdownTimeout:   s.Server.ShutdownTimeout.Std(),
		CORSOrigins:       s.Server.CORSOrigins,
		MaxBodySize:       s.Server.MaxBodySize,
		APIKeyHeader:      s.Auth.APIKeyHeader,
		GenerateRateLimit: s.Server.GenerateRateLimit,
		ReadyTimeout:      s.Store.Timeout.Std(),
	}
}

// Deps are the collaborators the routes are wired to.
type Deps struct {
	Keys      *service.KeyService
	Stores    *store.Stores
	Resolver  *cache.Resolver
	Forwarder *forward.Forwarder
	Metrics   *metrics.Metrics
}

// Server is the gateway HTTP server. It owns the chi router; the stores
// and services it routes to are owned by the caller.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with every route mounted.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", s.cfg.APIKeyHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(middleware.MaxBodySize(s.cfg.MaxBodySize))

	files := handler.NewFilesHandler(s.deps.Forwarder)
	keys := handler.NewKeysHandler(s.deps.Keys, s.logger)
	endpoints := handler.NewEndpointsHandler(s.deps.Keys, s.logger)
	header := s.cfg.APIKeyHeader

	// --- Exempt from admission ---
	r.Get("/", handler.Health)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", handler.Ready(s.deps.Stores.Credentials, s.cfg.ReadyTimeout))
	r.Handle("/metrics", s.deps.Metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)
	r.With(middleware.RateLimitByIP(s.cfg.GenerateRateLimit)).
		Post("/api-keys/generate", keys.Generate)

	// --- Admitted and forwarded ---
	r.Route("/files", func(r chi.Router) {
		r.Use(middleware.Admission(s.deps.Keys, s.deps.Resolver, header, s.logger))
		r.Get("/structure", files.Structure)
		r.Post("/content", files.Content)
	})

	// --- Admitted, not forwarded ---
	r.With(middleware.Admission(s.deps.Keys, nil, header, s.logger)).
		Delete("/api-keys/{key}", keys.Purge)

	// --- Agent registration: authenticated but not counted ---
	r.Route("/ngrok-urls", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.deps.Keys, header, s.logger))
		r.Post("/", endpoints.Register)
		r.Get("/{api_key}", endpoints.Get)
	})

	s.router = r
}

// handleHealthz is a liveness probe for orchestrators.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleOpenAPI serves the gateway description with the request's own
// origin as the server URL.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	doc := openapi.GenerateGatewaySpec(scheme+"://"+r.Host, s.cfg.APIKeyHeader)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// Run serves on the configured address until ctx is cancelled, then drains
// in-flight requests for up to ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown requested, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// ListenAndServe runs the server until SIGINT or SIGTERM.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
