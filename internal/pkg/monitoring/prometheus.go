package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
)

// Metrics exports decryption metrics to Prometheus
type Metrics struct {
	registry *prometheus.Registry
	serving  atomic.Bool

	records        *prometheus.CounterVec
	plaintextBytes prometheus.Histogram
	keylogEntries  *prometheus.CounterVec
	collisions     prometheus.Counter
	sessions       *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
}

// New creates the metrics on a registry of their own.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	// Add Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsd_records_total",
				Help: "Total number of records processed, by decryption status",
			},
			[]string{"status"},
		),
		plaintextBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tlsd_record_plaintext_bytes",
				Help:    "Size of decrypted record plaintext",
				Buckets: prometheus.ExponentialBuckets(16, 4, 7),
			},
		),
		keylogEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsd_keylog_entries_total",
				Help: "Total number of key log entries read, by label",
			},
			[]string{"label"},
		),
		collisions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tlsd_secret_collisions_total",
				Help: "Total number of secrets that replaced a different secret for the same key",
			},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsd_sessions_total",
				Help: "Total number of sessions finished, by protocol version",
			},
			[]string{"version"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tlsd_secret_cache_entries",
				Help: "Number of secrets held by the secret cache",
			},
		),
	}
	registry.MustRegister(m.records, m.plaintextBytes, m.keylogEntries, m.collisions, m.sessions, m.cacheEntries)

	// Every status is exported from the start, zeros included.
	for _, s := range decrypt.Statuses() {
		m.records.WithLabelValues(s.String())
	}
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRecord records the outcome of one record.
func (m *Metrics) ObserveRecord(status decrypt.Status, plaintextLen int) {
	m.records.WithLabelValues(status.String()).Inc()
	if status == decrypt.StatusOK {
		m.plaintextBytes.Observe(float64(plaintextLen))
	}
}

// ObserveKeylogEntry counts a key log entry read from a file or pipe.
func (m *Metrics) ObserveKeylogEntry(label string) {
	m.keylogEntries.WithLabelValues(label).Inc()
}

// ObserveInsert records a secret cache insert and the new cache size.
func (m *Metrics) ObserveInsert(result secrets.InsertResult, total int) {
	if result == secrets.Collision {
		m.collisions.Inc()
	}
	m.cacheEntries.Set(float64(total))
}

// ObserveSession counts a finished session.
func (m *Metrics) ObserveSession(version string) {
	if version == "" {
		version = "unknown"
	}
	m.sessions.WithLabelValues(version).Inc()
}

// Handler serves the metrics and a health check.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", m.healthHandler)
	return mux
}

// Serve listens on addr and serves Handler until ctx is cancelled. It
// returns the bound address once the listener is up.
func (m *Metrics) Serve(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen for metrics: %w", err)
	}

	server := &http.Server{
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	m.serving.Store(true)
	go func() {
		logger.Info("Starting Prometheus metrics server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		m.serving.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down Prometheus server", "error", err)
		}
	}()

	return ln.Addr().String(), nil
}

// healthHandler provides a health check endpoint
func (m *Metrics) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if m.serving.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","prometheus":"enabled"}`))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"stopping","prometheus":"disabled"}`))
	}
}
