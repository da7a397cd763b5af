// Package metrics exposes the coordinator's progress counters as
// Prometheus gauges/counters, optionally served over HTTP. This is a
// diagnostic counter export, not a live query API over the ingested data.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coordinator's progress counters on a private registry
// — this process never shares a registry with anything else, so there is
// no risk of name collision with other instrumented libraries.
type Metrics struct {
	registry        *prometheus.Registry
	LinesTotal      prometheus.Counter
	BytesReadTotal  prometheus.Counter
	RecordsEmitted  prometheus.Counter
}

// New constructs a Metrics registered on a fresh, private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		LinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoingest_lines_total",
			Help: "Total number of dump lines consumed.",
		}),
		BytesReadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoingest_bytes_read_total",
			Help: "Total compressed bytes read from the dump.",
		}),
		RecordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoingest_records_emitted_total",
			Help: "Total DataEntry records emitted by the projector.",
		}),
	}

	reg.MustRegister(m.LinesTotal, m.BytesReadTotal, m.RecordsEmitted)
	return m
}

// Serve starts an HTTP server exposing the registry at /metrics on addr,
// blocking until ctx is canceled. If addr is empty, Serve returns
// immediately with a nil error — metrics collection still happens, it is
// simply never exported over HTTP.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}
		return nil
	}
}
