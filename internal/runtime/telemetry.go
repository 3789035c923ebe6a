package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/spinloop/config"
)

// Telemetry owns the metrics registry and, when enabled, the HTTP server
// exposing it.
type Telemetry struct {
	Registry *prometheus.Registry
	server   *http.Server
}

// SetupTelemetry creates a registry with the Go and process collectors. The
// /metrics endpoint is only served when cfg.Enabled is set.
func SetupTelemetry(cfg config.TelemetryConfig) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	t := &Telemetry{Registry: reg}
	if !cfg.Enabled || cfg.MetricsPort <= 0 {
		return t, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[RUNTIME] metrics server error: %v", err)
		}
	}()
	return t, nil
}

// Shutdown stops the metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}
