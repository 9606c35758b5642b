package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/openfroyo/starmod/pkg/fault"
	"github.com/openfroyo/starmod/pkg/loader"
	"github.com/openfroyo/starmod/pkg/modpath"
)

// Metrics provides Prometheus metrics for the module loader. It implements
// loader.Observer; a disabled instance ignores every observation.
type Metrics struct {
	config MetricsConfig

	// Require metrics
	requires        *prometheus.CounterVec
	requireDuration *prometheus.HistogramVec

	// Materialization metrics
	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	loadFaults   *prometheus.CounterVec

	// Cache metrics
	cacheEvents *prometheus.CounterVec

	// Database metrics
	databaseErrors *prometheus.CounterVec

	// System metrics
	inFlight prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

var _ loader.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		requires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requires_total",
				Help:      "Total number of top-level and nested requires by outcome",
			},
			[]string{"outcome"},
		),
		requireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "require_duration_seconds",
				Help:      "Duration of require calls in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_loads_total",
				Help:      "Total number of modules materialized",
			},
			[]string{"origin", "kind", "status"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_load_duration_seconds",
				Help:      "Duration of module materialization in seconds",
				Buckets:   buckets,
			},
			[]string{"origin", "kind"},
		),
		loadFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_faults_total",
				Help:      "Total number of failed materializations by fault kind",
			},
			[]string{"kind"},
		),

		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Module and probe cache events",
			},
			[]string{"origin", "event"},
		),

		databaseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_errors_total",
				Help:      "Database lookups that failed and were treated as not found",
			},
			[]string{"collection"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "modules_in_flight",
				Help:      "Modules currently being materialized",
			},
		),
	}

	registry.MustRegister(
		m.requires,
		m.requireDuration,
		m.loads,
		m.loadDuration,
		m.loadFaults,
		m.cacheEvents,
		m.databaseErrors,
		m.inFlight,
	)

	return m, nil
}

// ObserveRequire records a require with its outcome and duration.
func (m *Metrics) ObserveRequire(outcome string, d time.Duration) {
	if m.requires == nil {
		return
	}
	m.requires.WithLabelValues(outcome).Inc()
	m.requireDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveLoad records a materialization. Failures are also counted by
// fault kind.
func (m *Metrics) ObserveLoad(origin modpath.OriginKind, kind loader.Kind, d time.Duration, err error) {
	if m.loads == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		faultKind := string(fault.KindOf(err))
		if faultKind == "" {
			faultKind = "unclassified"
		}
		m.loadFaults.WithLabelValues(faultKind).Inc()
	}
	m.loads.WithLabelValues(string(origin), string(kind), status).Inc()
	m.loadDuration.WithLabelValues(string(origin), string(kind)).Observe(d.Seconds())
}

// ObserveCache records a module or probe cache event.
func (m *Metrics) ObserveCache(origin modpath.OriginKind, event string) {
	if m.cacheEvents == nil {
		return
	}
	m.cacheEvents.WithLabelValues(string(origin), event).Inc()
}

// ObserveDatabaseError records a failed database lookup.
func (m *Metrics) ObserveDatabaseError(collection string) {
	if m.databaseErrors == nil {
		return
	}
	m.databaseErrors.WithLabelValues(collection).Inc()
}

// SetInFlight sets the number of modules currently materializing.
func (m *Metrics) SetInFlight(n int) {
	if m.inFlight == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// Gather returns the current metric families, or nil when disabled.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m.registry == nil {
		return nil, nil
	}
	return m.registry.Gather()
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

// StartMetricsServer starts an HTTP server to expose metrics. Serve errors
// are logged, not returned.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return nil
}

// Shutdown stops the metrics server, if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
