package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves the liveness probe, Prometheus metrics and a JSON status
// snapshot on a single listener.
type HTTPServer struct {
	addr   string
	daemon *Daemon
	server *http.Server
}

// NewHTTPServer creates the daemon HTTP server.
func NewHTTPServer(addr string, d *Daemon) *HTTPServer {
	return &HTTPServer{addr: addr, daemon: d}
}

// Start binds the listener and begins serving. Binding happens here so a
// taken port fails fast instead of surfacing later from the serve goroutine.
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	// The probe answers on the root too; external checkers hit arbitrary paths.
	mux.Handle("/", s.daemon.reporter.Handler())
	mux.Handle("/healthz", s.daemon.reporter.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.daemon.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", s.handleStatus)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server listening", "addr", s.addr)
	return nil
}

// Stop gracefully shuts down the server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// StatusResponse is the /status JSON document.
type StatusResponse struct {
	Status        Status               `json:"status"`
	Healthy       bool                 `json:"healthy"`
	Uptime        string               `json:"uptime"`
	Passes        int64                `json:"passes_completed"`
	CurrentTarget string               `json:"current_target,omitempty"`
	QueueDepth    int64                `json:"queue_depth"`
	StatusRecords int                  `json:"status_records"`
	LastActivity  time.Time            `json:"last_activity"`
	Maintenance   map[string]time.Time `json:"maintenance_last_runs"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	d := s.daemon
	resp := StatusResponse{
		Status:        d.GetStatus(),
		Healthy:       d.reporter.IsHealthy(),
		Uptime:        d.clk.Now().Sub(d.startTime).Round(time.Second).String(),
		Passes:        d.passCount.Load(),
		CurrentTarget: d.CurrentTarget(),
		QueueDepth:    d.queueDepth.Load(),
		StatusRecords: d.statuses.Len(),
		LastActivity:  d.reporter.LastActivity(),
		Maintenance:   d.maint.LastRuns(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("Failed to encode status response", "error", err)
	}
}
