package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns the ledger meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// LedgerInstruments mirrors the prometheus ledger metrics onto the OTLP
// meter so operation counts reach the collector alongside the spans.
type LedgerInstruments struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewLedgerInstruments registers the ledger instruments on meter.
func NewLedgerInstruments(meter metric.Meter) (*LedgerInstruments, error) {
	if meter == nil {
		meter = Meter()
	}
	operations, err := meter.Int64Counter("riskledger.ledger.operations",
		metric.WithDescription("Ledger operations segmented by operation and error code."),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, fmt.Errorf("otel: ledger operations counter: %w", err)
	}
	duration, err := meter.Float64Histogram("riskledger.ledger.operation.duration",
		metric.WithDescription("Ledger operation latency including commit."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("otel: ledger duration histogram: %w", err)
	}
	return &LedgerInstruments{operations: operations, duration: duration}, nil
}

// Record adds one operation. code is empty on success.
func (i *LedgerInstruments) Record(ctx context.Context, operation, code string, elapsed time.Duration) {
	if i == nil {
		return
	}
	outcome := "success"
	if code != "" {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
		attribute.String("code", code),
	)
	i.operations.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}
