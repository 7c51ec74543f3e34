package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"riskledger/core/events"
	"riskledger/core/types"
)

type eventMetrics struct {
	emitted   *prometheus.CounterVec
	transfers *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskledger",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of value transfers segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.transfers)
	})
	return eventRegistry
}

// RecordTransfer increments the transfer counter for the supplied asset ticker.
func (m *eventMetrics) RecordTransfer(asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.transfers.WithLabelValues(normalized).Inc()
}

// Emit implements events.Emitter so the registry can sit in an emitter chain.
func (m *eventMetrics) Emit(e events.Event) {
	if m == nil || e == nil {
		return
	}
	m.emitted.WithLabelValues(e.EventType()).Inc()
	if e.EventType() != events.TypeTransfer {
		return
	}
	if normalized, ok := e.(*types.Event); ok {
		m.RecordTransfer(normalized.Attributes["asset"])
	}
}
