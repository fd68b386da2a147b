package daemon

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/version"
)

// HTTPServer serves status, health, manual checks and Prometheus metrics.
type HTTPServer struct {
	daemon       *Daemon
	server       *http.Server
	ln           net.Listener
	errorAdapter *errors.HTTPErrorAdapter
}

// NewHTTPServer creates the daemon's admin server.
func NewHTTPServer(d *Daemon) *HTTPServer {
	s := &HTTPServer{
		daemon:       d,
		errorAdapter: errors.NewHTTPErrorAdapter(slog.Default()),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /check", s.handleCheck)

	if m := s.daemon.deps.Metrics; m != nil {
		registerRuntimeCollectors(m.Registry())
		path := s.daemon.Config().Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, m.Handler())
	}
	return mux
}

// Start binds addr so that port conflicts surface before the daemon reports running.
func (s *HTTPServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to bind HTTP listener").
			WithContext("address", addr).
			Build()
	}
	s.ln = ln
	slog.Info("HTTP server listening", logfields.Address(ln.Addr().String()))
	return nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve blocks until Shutdown.
func (s *HTTPServer) Serve() error {
	if s.ln == nil {
		return errors.DaemonError("HTTP server not started").Build()
	}
	if err := s.server.Serve(s.ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is served on /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Session   string    `json:"session"`
	LastCheck string    `json:"last_check,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version.Version,
		Session:   s.daemon.deps.Session.State().String(),
	}
	code := http.StatusOK
	if s.daemon.Status() != StatusRunning {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if last, ok := s.daemon.LastCheck(); ok {
		resp.LastCheck = last.State
		if !last.OK() && code == http.StatusOK {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, code, resp)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.StatusSnapshot())
}

// handleCheck runs a check synchronously and returns its result. Concurrent
// requests queue behind the running check.
func (s *HTTPServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.daemon.Status() != StatusRunning {
		s.errorAdapter.WriteErrorResponse(w, r, errors.DaemonError("daemon is not running").
			WithContext("status", string(s.daemon.Status())).
			Build())
		return
	}
	res := s.daemon.Check(r.Context(), TriggerManual)
	code := http.StatusOK
	if !res.OK() {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("Failed to encode HTTP response", logfields.Error(err))
	}
}

func registerRuntimeCollectors(reg *prom.Registry) {
	for _, c := range []prom.Collector{
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prom.AlreadyRegisteredError
			if !stderrors.As(err, &are) {
				slog.Warn("Failed to register runtime collector", logfields.Error(err))
			}
		}
	}
}
