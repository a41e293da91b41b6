package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the migration engine.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Extraction metrics
	pagesFetched *prometheus.CounterVec
	entitiesRead *prometheus.CounterVec

	// Load metrics
	rowsWritten     *prometheus.CounterVec
	workspacesFound *prometheus.CounterVec

	// Resilience metrics
	retries       *prometheus.CounterVec
	governorWaits prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry

	server     *http.Server
	listenAddr string
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of migration runs started",
			},
			[]string{"project_id"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of migration runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a migration run in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		pagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "odata_pages_fetched_total",
				Help:      "Total number of OData pages fetched",
			},
			[]string{"entity"},
		),
		entitiesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_extracted_total",
				Help:      "Total number of source entities extracted",
			},
			[]string{"entity"},
		),
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Total number of destination rows written",
			},
			[]string{"sheet"},
		),
		workspacesFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workspaces_resolved_total",
				Help:      "Workspace resolutions by outcome (reused, created, recreated)",
			},
			[]string{"outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried outbound calls",
			},
			[]string{"target"},
		),
		governorWaits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "governor_waits_total",
				Help:      "Total number of rate-governor delays applied",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors by classification",
			},
			[]string{"class"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.pagesFetched, m.entitiesRead,
		m.rowsWritten, m.workspacesFound,
		m.retries, m.governorWaits,
		m.errorsByClass,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer exposes the metrics endpoint on the configured listen
// address. It is a no-op when metrics are disabled.
func (m *Metrics) StartMetricsServer() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener: %w", err)
	}
	m.listenAddr = ln.Addr().String()
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// ListenAddr returns the bound metrics address, empty when no server runs.
func (m *Metrics) ListenAddr() string {
	return m.listenAddr
}

// StopMetricsServer shuts the metrics endpoint down.
func (m *Metrics) StopMetricsServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// RecordRunStarted increments the runs-started counter.
func (m *Metrics) RecordRunStarted(projectID string) {
	if m.registry == nil {
		return
	}
	m.runsStarted.WithLabelValues(projectID).Inc()
}

// RecordRunCompleted records a completed run with its duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPageFetched increments the fetched-pages counter for an entity type.
func (m *Metrics) RecordPageFetched(entity string, count int) {
	if m.registry == nil {
		return
	}
	m.pagesFetched.WithLabelValues(entity).Inc()
	m.entitiesRead.WithLabelValues(entity).Add(float64(count))
}

// RecordRowsWritten adds to the written-rows counter for a sheet.
func (m *Metrics) RecordRowsWritten(sheet string, count int) {
	if m.registry == nil {
		return
	}
	m.rowsWritten.WithLabelValues(sheet).Add(float64(count))
}

// RecordWorkspaceResolution records a workspace resolution outcome.
func (m *Metrics) RecordWorkspaceResolution(outcome string) {
	if m.registry == nil {
		return
	}
	m.workspacesFound.WithLabelValues(outcome).Inc()
}

// RecordRetry increments the retry counter for a call target.
func (m *Metrics) RecordRetry(target string) {
	if m.registry == nil {
		return
	}
	m.retries.WithLabelValues(target).Inc()
}

// RecordGovernorWait increments the governor-delay counter.
func (m *Metrics) RecordGovernorWait() {
	if m.registry == nil {
		return
	}
	m.governorWaits.Inc()
}

// RecordError increments the error counter for a classification.
func (m *Metrics) RecordError(class string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}
