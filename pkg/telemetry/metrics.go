package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stackforge/stackforge/pkg/engine"
)

// Metrics provides Prometheus metrics for the reconciliation engine. A
// disabled instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plans          *prometheus.CounterVec
	artifactStatus *prometheus.CounterVec

	// Apply metrics
	applies        *prometheus.CounterVec
	ledgerFailures prometheus.Counter

	// Remote metrics
	remoteCalls    *prometheus.CounterVec
	remoteErrors   *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec

	// Walk metrics
	directoriesWalked prometheus.Counter

	registry *prometheus.Registry
}

var _ engine.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_total",
				Help:      "Total number of artifact plans computed",
			},
			[]string{"artifact", "mode"},
		),
		artifactStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_status_total",
				Help:      "Preview outcomes by artifact and status",
			},
			[]string{"artifact", "status"},
		),
		applies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_total",
				Help:      "Apply outcomes by artifact",
			},
			[]string{"artifact", "outcome"},
		),
		ledgerFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_failures_total",
				Help:      "Apply records that could not be written to the ledger",
			},
		),
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of remote repository calls",
			},
			[]string{"operation"},
		),
		remoteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_errors_total",
				Help:      "Total number of failed remote repository calls",
			},
			[]string{"operation"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Duration of remote repository calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		directoriesWalked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "directories_walked_total",
				Help:      "Directories listed while walking repositories",
			},
		),
	}

	registry.MustRegister(
		m.plans,
		m.artifactStatus,
		m.applies,
		m.ledgerFailures,
		m.remoteCalls,
		m.remoteErrors,
		m.remoteDuration,
		m.directoriesWalked,
	)

	return m, nil
}

// Enabled reports whether measurements are recorded.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// RecordPlan counts a computed plan.
func (m *Metrics) RecordPlan(artifact, mode string) {
	if m.plans == nil {
		return
	}
	m.plans.WithLabelValues(artifact, mode).Inc()
}

// RecordArtifactStatus counts a preview outcome.
func (m *Metrics) RecordArtifactStatus(artifact, status string) {
	if m.artifactStatus == nil {
		return
	}
	m.artifactStatus.WithLabelValues(artifact, status).Inc()
}

// RecordApply counts an apply outcome (written, skipped, failed, denied).
func (m *Metrics) RecordApply(artifact, outcome string) {
	if m.applies == nil {
		return
	}
	m.applies.WithLabelValues(artifact, outcome).Inc()
}

// RecordRemoteCall records a remote call with its duration.
func (m *Metrics) RecordRemoteCall(operation string, duration time.Duration, err error) {
	if m.remoteCalls == nil {
		return
	}
	m.remoteCalls.WithLabelValues(operation).Inc()
	m.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		m.remoteErrors.WithLabelValues(operation).Inc()
	}
}

// RecordLedgerFailure counts a failed ledger append.
func (m *Metrics) RecordLedgerFailure() {
	if m.ledgerFailures == nil {
		return
	}
	m.ledgerFailures.Inc()
}

// RecordDirectoryWalked counts a listed directory.
func (m *Metrics) RecordDirectoryWalked() {
	if m.directoriesWalked == nil {
		return
	}
	m.directoriesWalked.Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint on ListenAddress until ctx
// is cancelled. It is a no-op when metrics are disabled or no address is set.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.Enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	logger.WithField("addr", m.config.ListenAddress+path).Info("Serving metrics")
	return nil
}
