package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestLedgerInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	instruments, err := NewLedgerInstruments(provider.Meter(InstrumentationName))
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	ctx := context.Background()
	instruments.Record(ctx, "borrow", "", 2*time.Millisecond)
	instruments.Record(ctx, "borrow", "HealthBreach", time.Millisecond)
	instruments.Record(ctx, "borrow", "HealthBreach", time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	counts := map[string]int64{}
	var observations uint64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					code, _ := dp.Attributes.Value(attribute.Key("code"))
					counts[code.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					observations += dp.Count
				}
			}
		}
	}
	if counts[""] != 1 || counts["HealthBreach"] != 2 {
		t.Fatalf("unexpected operation counts %v", counts)
	}
	if observations != 3 {
		t.Fatalf("expected 3 duration observations, got %d", observations)
	}
}

func TestNilLedgerInstrumentsIgnored(t *testing.T) {
	var instruments *LedgerInstruments
	instruments.Record(context.Background(), "borrow", "", time.Millisecond)
}
