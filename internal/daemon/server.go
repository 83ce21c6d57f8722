package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port int
	Bind string
}

// Controller is the daemon control surface served over HTTP. *Manager
// implements it.
type Controller interface {
	Status() Status
	Stop(ctx context.Context) (StopResult, error)
}

// Server is the HTTP server for the daemon control surface.
// It is safe for concurrent use.
type Server struct {
	mu             sync.RWMutex
	ctrl           Controller
	config         ServerConfig
	server         *http.Server
	listener       net.Listener
	closed         bool
	router         *chi.Mux
	metricsHandler http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// NewServer creates a new HTTP server for ctrl.
func NewServer(ctrl Controller, config ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:   ctrl,
		config: config,
		router: chi.NewRouter(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
	s.router.Post("/stop", s.handleStop)

	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler)
	}
}

// Handler returns the HTTP handler for testing purposes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// LivezResponse is the response format for /healthz endpoint.
type LivezResponse struct {
	Status string `json:"status"`
}

// handleHealthz returns 200 OK while the process is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivezResponse{Status: "alive"})
}

// handleStatus returns the full status. The code is 503 when the daemon is
// unhealthy so the endpoint doubles as a readiness probe.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ctrl.Status()

	code := http.StatusOK
	if !status.OverallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleStop stops the daemon. The stop is not tied to the request, so a
// disconnecting client does not interrupt it.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	result, err := s.ctrl.Stop(context.WithoutCancel(r.Context()))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Listen binds the configured address. Start calls it when needed; calling it
// first lets callers learn the bound address of an ephemeral port.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, net.ErrClosed
	}
	if s.listener != nil {
		return s.listener.Addr(), nil
	}

	addr := net.JoinHostPort(s.config.Bind, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s; %w", addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Handler: s.router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	server, ln := s.server, s.listener
	s.mu.Unlock()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("http server error; %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	server, ln := s.server, s.listener
	s.mu.Unlock()

	if server == nil {
		if ln != nil {
			return ln.Close()
		}
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server; %w", err)
	}

	return nil
}
