package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// Server serves /metrics on one port and /health, /ready on another.
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *slog.Logger
}

func NewServer(metricsPort, healthPort int, logger *slog.Logger, healthChecker *HealthChecker) *Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", healthChecker.HealthHandler())
	healthMux.HandleFunc("/ready", healthChecker.ReadyHandler())

	return &Server{
		metricsServer: newHTTPServer(metricsPort, metricsMux),
		healthServer:  newHTTPServer(healthPort, healthMux),
		logger:        logger,
	}
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}

// Start serves until ctx is cancelled, then shuts both servers down.
func (s *Server) Start(ctx context.Context) error {
	for name, srv := range map[string]*http.Server{"metrics": s.metricsServer, "health": s.healthServer} {
		go func(name string, srv *http.Server) {
			s.logger.Info("starting "+name+" server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error(name+" server error", "error", err)
			}
		}(name, srv)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("observability shutdown error", "error", err)
	}
	return nil
}

// Shutdown gracefully shuts down the observability servers
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down observability servers")

	if err := s.metricsServer.Shutdown(ctx); err != nil {
		return errors.NewTransientf("metrics server shutdown: %w", err)
	}
	if err := s.healthServer.Shutdown(ctx); err != nil {
		return errors.NewTransientf("health server shutdown: %w", err)
	}
	return nil
}
