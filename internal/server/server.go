// Package server provides the HTTP transport for bwmond.
//
// The transport is a thin dispatcher: it decodes requests, resolves the
// sender identity from the connection, calls into the ingest gateway and
// store, and maps the error taxonomy onto HTTP statuses. No business rules
// live here.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xtxerr/bwmon/internal/ingest"
	"github.com/xtxerr/bwmon/internal/logging"
	"github.com/xtxerr/bwmon/internal/policy"
	"github.com/xtxerr/bwmon/internal/store"
)

var log = logging.Component("server")

// Config holds server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration

	// DefaultWindowHours applies to history/summary queries without an
	// explicit hours parameter.
	DefaultWindowHours int

	// ExportDir is where parquet exports are written.
	ExportDir string
}

// Server is the bwmond HTTP server.
type Server struct {
	config  Config
	gateway *ingest.Gateway
	store   *store.Store
	policy  *policy.Policy
	http    *http.Server
}

// New creates a Server wired to the given core components.
func New(cfg Config, gw *ingest.Gateway, st *store.Store, pol *policy.Policy) *Server {
	s := &Server{
		config:  cfg,
		gateway: gw,
		store:   st,
		policy:  pol,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/", s.handleIndex)
	r.Post("/report", s.handleReport)
	r.Get("/servers", s.handleServers)
	r.Get("/latest", s.handleLatest)
	r.Get("/history/{address}", s.handleHistory)
	r.Get("/summary/{address}", s.handleSummary)
	r.Post("/export/{address}", s.handleExport)

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then drains within the configured
// timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", s.config.Listen)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
	defer cancel()

	log.Info("shutting down", "drain_timeout", s.config.DrainTimeout)
	return s.http.Shutdown(drainCtx)
}

// =============================================================================
// Middleware
// =============================================================================

// requestID tags every request with a UUID for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.WithContext(r.Context()).Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

// clientIP extracts the sender identity from the connection. The address is
// the identity the policy authorizes; no forwarded headers are trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
