package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for smelt.
type Metrics struct {
	config MetricsConfig

	// Collection metrics
	collectionsConstructed *prometheus.CounterVec
	constructionErrors     *prometheus.CounterVec
	freezeDuration         prometheus.Histogram
	providerLookups        *prometheus.CounterVec
	subtargetResolutions   *prometheus.CounterVec

	// Evaluation metrics
	evaluationsStarted   prometheus.Counter
	evaluationsCompleted *prometheus.CounterVec
	evaluationDuration   *prometheus.HistogramVec

	// Store metrics
	storeOperations        *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec

	// Policy metrics
	policyEvaluations *prometheus.CounterVec
	policyViolations  *prometheus.CounterVec

	// System metrics
	activeEvaluations prometheus.Gauge
	loadedPolicies    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Collection metrics
		collectionsConstructed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collections_constructed_total",
				Help:      "Total number of provider collections constructed",
			},
			[]string{"path"},
		),
		constructionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "construction_errors_total",
				Help:      "Total number of collection construction failures by error kind",
			},
			[]string{"kind"},
		),
		freezeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "freeze_duration_seconds",
				Help:      "Duration of collection freeze transitions in seconds",
				Buckets:   buckets,
			},
		),
		providerLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_lookups_total",
				Help:      "Total number of provider lookups by operator and outcome",
			},
			[]string{"operator", "outcome"},
		),
		subtargetResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subtarget_resolutions_total",
				Help:      "Total number of sub-target resolutions by outcome",
			},
			[]string{"outcome"},
		),

		// Evaluation metrics
		evaluationsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_started_total",
				Help:      "Total number of target evaluations started",
			},
		),
		evaluationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_completed_total",
				Help:      "Total number of target evaluations completed",
			},
			[]string{"status"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of target evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Store metrics
		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of result store operations",
			},
			[]string{"operation", "status"},
		),
		storeOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Duration of result store operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		// Policy metrics
		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of policy gate evaluations",
			},
			[]string{"status"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		// System metrics
		activeEvaluations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_evaluations",
				Help:      "Current number of in-flight target evaluations",
			},
		),
		loadedPolicies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "loaded_policies",
				Help:      "Current number of loaded policies",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.collectionsConstructed,
		m.constructionErrors,
		m.freezeDuration,
		m.providerLookups,
		m.subtargetResolutions,
		m.evaluationsStarted,
		m.evaluationsCompleted,
		m.evaluationDuration,
		m.storeOperations,
		m.storeOperationDuration,
		m.policyEvaluations,
		m.policyViolations,
		m.activeEvaluations,
		m.loadedPolicies,
	)

	return m, nil
}

// Collection Metrics

// RecordCollectionConstructed increments the counter for built collections.
// path is "strict" or "lenient".
func (m *Metrics) RecordCollectionConstructed(path string) {
	if m.collectionsConstructed == nil {
		return
	}
	m.collectionsConstructed.WithLabelValues(path).Inc()
}

// RecordConstructionError records a failed construction by error kind.
func (m *Metrics) RecordConstructionError(kind string) {
	if m.constructionErrors == nil {
		return
	}
	m.constructionErrors.WithLabelValues(kind).Inc()
}

// ObserveFreezeDuration records the duration of one freeze transition.
func (m *Metrics) ObserveFreezeDuration(duration time.Duration) {
	if m.freezeDuration == nil {
		return
	}
	m.freezeDuration.Observe(duration.Seconds())
}

// RecordProviderLookup records a query operator use. operator is one of
// "[]", "in", ".get"; outcome is "hit", "miss", or "error".
func (m *Metrics) RecordProviderLookup(operator, outcome string) {
	if m.providerLookups == nil {
		return
	}
	m.providerLookups.WithLabelValues(operator, outcome).Inc()
}

// RecordSubTargetResolution records a sub-target path resolution.
func (m *Metrics) RecordSubTargetResolution(outcome string) {
	if m.subtargetResolutions == nil {
		return
	}
	m.subtargetResolutions.WithLabelValues(outcome).Inc()
}

// Evaluation Metrics

// RecordEvaluationStarted increments the counter for started evaluations.
func (m *Metrics) RecordEvaluationStarted() {
	if m.evaluationsStarted == nil {
		return
	}
	m.evaluationsStarted.Inc()
	m.activeEvaluations.Inc()
}

// RecordEvaluationCompleted records a completed evaluation with its status
// and duration.
func (m *Metrics) RecordEvaluationCompleted(status string, duration time.Duration) {
	if m.evaluationsCompleted == nil {
		return
	}
	m.evaluationsCompleted.WithLabelValues(status).Inc()
	m.evaluationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeEvaluations.Dec()
}

// Store Metrics

// RecordStoreOperation records a result store operation with its duration.
func (m *Metrics) RecordStoreOperation(operation, status string, duration time.Duration) {
	if m.storeOperations == nil {
		return
	}
	m.storeOperations.WithLabelValues(operation, status).Inc()
	m.storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Policy Metrics

// RecordPolicyEvaluation records a policy gate evaluation.
func (m *Metrics) RecordPolicyEvaluation(status string) {
	if m.policyEvaluations == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(status).Inc()
}

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// System Metrics

// SetActiveEvaluations sets the current number of in-flight evaluations.
func (m *Metrics) SetActiveEvaluations(count float64) {
	if m.activeEvaluations == nil {
		return
	}
	m.activeEvaluations.Set(count)
}

// SetLoadedPolicies sets the current number of loaded policies.
func (m *Metrics) SetLoadedPolicies(count float64) {
	if m.loadedPolicies == nil {
		return
	}
	m.loadedPolicies.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
