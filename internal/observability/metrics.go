package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MetricsServer exposes a Prometheus gatherer over HTTP.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
}

// NewMetricsServer binds addr and prepares a /metrics handler for gatherer.
// A nil gatherer serves the default registry.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) (*MetricsServer, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound listen address.
func (m *MetricsServer) Addr() string {
	return m.listener.Addr().String()
}

// Serve blocks until ctx is cancelled or the server fails.
func (m *MetricsServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.server.Serve(m.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
