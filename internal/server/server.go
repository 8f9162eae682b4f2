package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/booking"
	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/internal/tracking"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

// RateLimiter admits or rejects a request for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
}

// Server is the HTTP server for the carrier hub.
type Server struct {
	port           int
	defaultCarrier carrier.Identity
	auth           *Authenticator
	tracker        *tracking.Coordinator
	booking        *booking.Orchestrator
	orders         order.Store
	limiter        RateLimiter
	gatherer       prometheus.Gatherer
	logger         *otelzap.Logger
}

// Config holds server configuration.
type Config struct {
	Port           int
	JWTSecret      string
	DefaultCarrier carrier.Identity
}

// Deps are the components the handlers call into. Limiter and Gatherer are
// optional.
type Deps struct {
	Tracker  *tracking.Coordinator
	Booking  *booking.Orchestrator
	Orders   order.Store
	Limiter  RateLimiter
	Gatherer prometheus.Gatherer
}

// New creates a new server instance.
func New(cfg Config, deps Deps, logger *otelzap.Logger) *Server {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		port:           cfg.Port,
		defaultCarrier: cfg.DefaultCarrier,
		auth:           NewAuthenticator(cfg.JWTSecret),
		tracker:        deps.Tracker,
		booking:        deps.Booking,
		orders:         deps.Orders,
		limiter:        deps.Limiter,
		gatherer:       gatherer,
		logger:         logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.With(s.rateLimit).Get("/track", s.handleTrack)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Get("/orders/{orderID}/tracking", s.handleOrderTracking)
			r.Get("/orders/{orderID}/rates", s.handleRates)
			r.Post("/orders/{orderID}/booking", s.handleBook)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
