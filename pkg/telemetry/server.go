package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MetricsServer exposes the metrics registry over HTTP.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	logger   *Logger
}

// NewRouter builds the HTTP routes for the metrics endpoint.
func (m *Metrics) NewRouter() http.Handler {
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, path, m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// StartMetricsServer starts serving metrics on cfg.ListenAddress. It returns
// nil, nil when metrics or the endpoint are disabled.
func (m *Metrics) StartMetricsServer(logger *Logger) (*MetricsServer, error) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}

	s := &MetricsServer{
		server: &http.Server{
			Handler:           m.NewRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	logger.Infof("Metrics available at http://%s%s", ln.Addr(), m.config.Path)
	return s, nil
}

// Addr returns the address the server listens on.
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
