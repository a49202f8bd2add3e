package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
)

// Runner is the part of the pipeline the server exposes: readiness, the last
// run summary, and on-demand triggering.
type Runner interface {
	sharedobs.ReadinessChecker
	LastRun() (pipeline.RunStatus, bool)
}

// Trigger requests an out-of-schedule run. It reports false when a run is
// already in progress or the scheduler has stopped.
type Trigger func() bool

// Server exposes health, readiness, status, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /status and
// /metrics routes. POST /run is registered only when trigger is non-nil.
func NewServer(addr string, runner Runner, trigger Trigger, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(runner))
	mux.HandleFunc("GET /status", handleStatus(runner))
	if trigger != nil {
		mux.HandleFunc("POST /run", s.handleRun(trigger))
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func handleStatus(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st, ok := runner.LastRun()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"status": "no runs yet"})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleRun(trigger Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !trigger() {
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"status": "run in progress"})
			return
		}
		s.logger.Info("run triggered over http")
		sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "run scheduled"})
	}
}
