package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fw-proxy/internal/logging"
)

// Server exposes Prometheus metrics and a health endpoint via HTTP.
type Server struct {
	Logger *logging.Logger

	Registry          *prometheus.Registry
	TelemetryPath     string
	ListenAddrs       []string
	MaxRequests       int
	DisableExpMetrics bool

	// Health, when set, backs /healthz: a non-nil error answers 503.
	Health func() error
}

// Handler returns the mux serving the telemetry path and /healthz.
func (s *Server) Handler() http.Handler {
	if s.Registry == nil {
		s.Registry = prometheus.NewRegistry()
	}
	if s.TelemetryPath == "" {
		s.TelemetryPath = "/metrics"
	}

	handlerOpts := promhttp.HandlerOpts{}
	if s.MaxRequests > 0 {
		handlerOpts.MaxRequestsInFlight = s.MaxRequests
	}

	var metricsHandler http.Handler = promhttp.HandlerFor(s.Registry, handlerOpts)
	// promhttp_ metrics are only registered if we wrap with InstrumentMetricHandler.
	if !s.DisableExpMetrics {
		metricsHandler = promhttp.InstrumentMetricHandler(s.Registry, metricsHandler)
	}

	mux := http.NewServeMux()
	mux.Handle(s.TelemetryPath, metricsHandler)
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.Health != nil {
		if err := s.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error() + "\n"))
			return
		}
	}
	_, _ = w.Write([]byte("ok\n"))
}

// Start launches HTTP servers for all configured listen addresses.
// It blocks until ctx is cancelled, then attempts a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	errCh := make(chan error, len(s.ListenAddrs))
	servers := make([]*http.Server, 0, len(s.ListenAddrs))

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}

	for _, addr := range s.ListenAddrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			shutdown()
			return err
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)

		if s.Logger != nil {
			s.Logger.Info("http server started", "addr", ln.Addr().String(), "path", s.TelemetryPath)
		}

		go func(srv *http.Server, ln net.Listener) {
			err := srv.Serve(ln)
			if err == nil || err == http.ErrServerClosed {
				errCh <- nil
				return
			}
			errCh <- err
		}(srv, ln)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			shutdown()
			return err
		}
		<-ctx.Done()
	}

	shutdown()
	return nil
}
