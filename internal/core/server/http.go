// Package server provides HTTP server lifecycle management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solatis/factkeeper/internal/core/api"
	"github.com/solatis/factkeeper/internal/core/auth"
	"github.com/solatis/factkeeper/internal/core/config"
	"github.com/solatis/factkeeper/internal/metrics"
)

// HTTPServer manages HTTP server lifecycle.
// The /v1 surface sits behind API key authentication; /healthz and
// /metrics stay open for probes and scrapers.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	config   *config.ServerConfig
}

// NewHTTPServer creates the server with auth middleware and route wiring.
func NewHTTPServer(cfg *config.ServerConfig, service *api.Service, authenticator *auth.Authenticator, m *metrics.Metrics) (*HTTPServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if m == nil {
		m = metrics.New()
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", requestMetrics(m, authenticator.Middleware(service.Routes())))
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &HTTPServer{
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
		},
		config: cfg,
	}, nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Start binds the listener and serves until Shutdown is called.
func (s *HTTPServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	s.listener = listener
	if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, useful when the port was 0.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests within the configured timeout, then
// forces the remainder closed.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown incomplete, forced stop: %w", err)
	}
	return nil
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestMetrics counts requests by normalized route and status code.
func requestMetrics(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequestsTotal.WithLabelValues(
			r.Method+" "+routePattern(r.URL.Path),
			strconv.Itoa(rec.status),
		).Inc()
	})
}

// routePattern collapses path parameters so the route label stays bounded.
func routePattern(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/rules/"); ok && rest != "" {
		return "/v1/rules/{id}"
	}
	return path
}
