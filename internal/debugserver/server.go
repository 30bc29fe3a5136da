// Package debugserver exposes a running orchestrator tree over HTTP: its
// state, its Prometheus metrics and an endpoint to queue operations.
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/GoCodeAlone/ruleflow"
	"github.com/GoCodeAlone/ruleflow/internal/driver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 16

// Server serves the debug endpoints for one driver.
type Server struct {
	driver   *driver.Driver
	catalog  *ruleflow.Catalog
	gatherer prometheus.Gatherer
	logger   ruleflow.Logger
	router   chi.Router
}

// New builds the router. A nil gatherer serves the default registry.
func New(d *driver.Driver, catalog *ruleflow.Catalog, gatherer prometheus.Gatherer, logger ruleflow.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = ruleflow.NopLogger{}
	}
	s := &Server{driver: d, catalog: catalog, gatherer: gatherer, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/setups", s.handleSetups)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/ops/{op}", s.handleOp)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debug server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Debug server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("debug server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.driver.Snapshot()
	status := http.StatusOK
	if snap.Stopped || !s.driver.Running() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"running": s.driver.Running(), "stopped": snap.Stopped, "frames": s.driver.Frames()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Snapshot())
}

// handleSetups reads the catalog on the frame goroutine, which is the only
// goroutine that mutates it.
func (s *Server) handleSetups(w http.ResponseWriter, r *http.Request) {
	var names []string
	err := s.driver.Do(r.Context(), func(*ruleflow.Orchestrator) error {
		names = s.catalog.SetupNames()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"setups": names})
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	var cmd driver.Command
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cmd); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}
	cmd.Op = driver.Op(chi.URLParam(r, "op"))

	if err := s.driver.Submit(r.Context(), cmd); err != nil {
		s.logger.Warn("Debug operation failed", "op", cmd.Op, "target", cmd.Target, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "op": cmd.Op, "target": cmd.Target})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, driver.ErrUnknownOp):
		status = http.StatusBadRequest
	case errors.Is(err, driver.ErrUnknownSetup), errors.Is(err, driver.ErrUnknownTarget), errors.Is(err, ruleflow.ErrChildNotFound):
		status = http.StatusNotFound
	case errors.Is(err, driver.ErrNotRunning), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
