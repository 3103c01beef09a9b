// Package health serves the liveness and metrics endpoints used by container
// probes and scrapers.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/logging"
)

const (
	pingTimeout        = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	shutdownTimeout    = 5 * time.Second
	healthListenPrefix = ":"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server hosts /healthz and, when configured, /metrics.
type Server struct {
	server   *http.Server
	logger   *logrus.Entry
	checkers map[string]Checker
	metrics  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithChecker adds a named dependency to the health report.
func WithChecker(name string, checker Checker) Option {
	return func(s *Server) {
		if checker != nil {
			s.checkers[name] = checker
		}
	}
}

// WithMetrics serves handler on /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewServer constructs a health server listening on port.
func NewServer(port int, logger *logrus.Entry, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:   logger,
		checkers: make(map[string]Checker),
	}
	for _, opt := range opts {
		opt(srv)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// Run serves until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return <-errCh
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok", Checks: make(map[string]string, len(s.checkers))}

	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pingCtx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := s.checkers[name].Ping(pingCtx)
		cancel()

		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = "error"
			s.logger.WithFields(logging.Fields{
				"event":      "health_check_error",
				"dependency": name,
			}).WithError(err).Warn("dependency check failed")
			continue
		}
		resp.Checks[name] = "ok"
	}

	if len(s.checkers) == 0 {
		resp.Status = "degraded"
		s.logger.WithField("event", "health_checks_missing").Warn("no dependency checks configured")
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
