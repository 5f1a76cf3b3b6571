package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"guardian/core/events"
	"guardian/native/secureop"
)

// ServerConfig carries the optional surfaces of the read API: bearer-token
// authentication, per-client rate limiting, live event streaming, and request
// tracing.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
	// Stream, when set, enables the /v1/events websocket endpoint. The same
	// stream must be installed as the engine's emitter.
	Stream *events.Stream
	// Tracing wraps the router with OpenTelemetry HTTP instrumentation.
	Tracing bool
}

// Server exposes the engine's read surface over HTTP. Mutations never travel
// through this server; they are invoked in-process by the application
// embedding the engine.
type Server struct {
	engine *secureop.Engine
	logger *slog.Logger
	stream *events.Stream
	http   *http.Server
}

// NewServer builds the read API around an engine instance.
func NewServer(engine *secureop.Engine, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger, stream: cfg.Stream}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(newRateLimiter(cfg.RateLimit).middleware)
	r.Use(newAuthenticator(cfg.Auth, logger).middleware)

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Timeout(15 * time.Second)).Group(func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/transactions", s.handleListTransactions)
			r.Get("/transactions/pending", s.handleListPending)
			r.Get("/transactions/{id}", s.handleGetTransaction)
			r.Get("/roles", s.handleListRoles)
			r.Get("/roles/{name}", s.handleGetRole)
			r.Get("/roles/{name}/members/{address}", s.handleRoleMembership)
			r.Get("/operations", s.handleListOperations)
			r.Get("/operations/{name}/paths", s.handleWorkflowPaths)
			r.Get("/nonces/{address}", s.handleSignerNonce)
		})
		r.Get("/events", s.handleEventStream)
	})
	r.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = r
	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "guardian.rpc")
	}
	s.http = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve starts listening on the supplied address and blocks until the server
// stops.
func (s *Server) Serve(addr string) error {
	s.http.Addr = addr
	s.logger.Info("rpc server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the underlying router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
