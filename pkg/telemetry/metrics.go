package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of plan applications and checks.
type Metrics struct {
	config MetricsConfig

	plansApplied         *prometheus.CounterVec
	actionsCommitted     *prometheus.CounterVec
	applyDuration        prometheus.Histogram
	applyRounds          prometheus.Histogram
	constraintViolations *prometheus.CounterVec
	planChecks           *prometheus.CounterVec
	errorsByClass        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a dedicated registry. A disabled
// configuration yields a Metrics whose recorders do nothing.
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

		plansApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_applied_total",
				Help:      "Total number of plan applications",
			},
			[]string{"status"},
		),
		actionsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_committed_total",
				Help:      "Total number of committed actions",
			},
			[]string{"kind"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of plan applications in seconds",
				Buckets:   buckets,
			},
		),
		applyRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_rounds",
				Help:      "Number of commit rounds per plan application",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
		),
		constraintViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "constraint_violations_total",
				Help:      "Total number of constraint violations",
			},
			[]string{"constraint"},
		),
		planChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_checks_total",
				Help:      "Total number of plan checks",
			},
			[]string{"result"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.plansApplied,
		m.actionsCommitted,
		m.applyDuration,
		m.applyRounds,
		m.constraintViolations,
		m.planChecks,
		m.errorsByClass,
	)
	return m, nil
}

// RecordPlanApplied records a finished application.
func (m *Metrics) RecordPlanApplied(status string, rounds int, duration time.Duration) {
	if m.plansApplied == nil {
		return
	}
	m.plansApplied.WithLabelValues(status).Inc()
	m.applyDuration.Observe(duration.Seconds())
	m.applyRounds.Observe(float64(rounds))
}

// RecordActionCommitted counts a committed action by kind.
func (m *Metrics) RecordActionCommitted(kind string) {
	if m.actionsCommitted == nil {
		return
	}
	m.actionsCommitted.WithLabelValues(kind).Inc()
}

// RecordPlanCheck counts a plan check by result.
func (m *Metrics) RecordPlanCheck(result string) {
	if m.planChecks == nil {
		return
	}
	m.planChecks.WithLabelValues(result).Inc()
}

// RecordViolation counts a violation of the named constraint.
func (m *Metrics) RecordViolation(constraint string) {
	if m.constraintViolations == nil {
		return
	}
	m.constraintViolations.WithLabelValues(constraint).Inc()
}

// RecordError counts an error by class and code.
func (m *Metrics) RecordError(class, code string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class, code).Inc()
}

// Registry returns the registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Timer measures elapsed time.
type Timer struct {
	start time.Time
}

// NewTimer creates a started timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns the HTTP handler of the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewServer returns the metrics HTTP server, or nil when no listen address
// is configured. The caller runs and shuts it down.
func (m *Metrics) NewServer() *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
