package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// LedgerMetrics tracks ledger operations executed inside the host critical section.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reverts    prometheus.Counter
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to record
// HTTP API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "riskledger",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Ledger returns the singleton metrics registry for ledger operations.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "ledger",
				Name:      "failures_total",
				Help:      "Count of rejected ledger operations segmented by operation and error code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "riskledger",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			reverts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "ledger",
				Name:      "reverts_total",
				Help:      "Count of operations whose state changes were rolled back.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.failures,
			ledgerRegistry.latency,
			ledgerRegistry.reverts,
		)
	})
	return ledgerRegistry
}

// Observe records one ledger operation. code is the stable error code for
// failures and empty on success.
func (m *LedgerMetrics) Observe(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if code != "" {
		outcome = "error"
		m.failures.WithLabelValues(op, code).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRevert increments the revert counter.
func (m *LedgerMetrics) RecordRevert() {
	if m == nil {
		return
	}
	m.reverts.Inc()
}
