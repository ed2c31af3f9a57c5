// Package server exposes the reconciliation engine over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/valuebench/coamap/internal/engine"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr      string
	RateEvery time.Duration
	RateBurst int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		RateEvery: 20 * time.Millisecond,
		RateBurst: 50,
	}
}

// Server routes HTTP requests to the reconciliation engine.
type Server struct {
	engine  *engine.Engine
	logger  *slog.Logger
	router  chi.Router
	limiter *rate.Limiter
	config  Config
}

// New creates a server around the given engine.
func New(e *engine.Engine, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RateEvery <= 0 {
		cfg.RateEvery = 20 * time.Millisecond
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 50
	}

	s := &Server{
		engine:  e,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.RateEvery), cfg.RateBurst),
		config:  cfg,
	}
	s.router = s.routes()
	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until the context is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.config.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.rateLimit)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleLoadAccounts)
		r.Get("/accounts", s.handleListAccounts)

		r.Route("/engagements/{engagementID}", func(r chi.Router) {
			r.Post("/line-items", s.handleIngestLineItems)
			r.Post("/score", s.handleScore)

			r.Get("/mappings", s.handleListMappings)
			r.Get("/mappings/summary", s.handleSummary)
			r.Delete("/mappings", s.handleClear)
			r.Post("/mappings/{sourceID}/suggest", s.handleSuggest)
			r.Post("/mappings/{sourceID}/decision", s.handleDecide)

			r.Post("/decisions", s.handleDecideMany)
			r.Post("/approvals", s.handleApproveAboveThreshold)
		})
	})

	return r
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext returns the id the request logger assigned to the
// request, or "" outside a request scope.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestLogger tags every request with an id, propagates it through the
// request context and the X-Request-ID response header, and logs the outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("rate limit exceeded", "path", r.URL.Path)
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
