package observability

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func TestOrderMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewOrderMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOrderMetrics: %v", err)
	}

	ctx := context.Background()
	metrics.RecordCheckout(ctx, "success")
	metrics.RecordCheckout(ctx, "success")
	metrics.RecordCheckout(ctx, "insufficient_stock")
	metrics.RecordCancellation(ctx, domain.InitiatedByAdmin)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	if totals["commerce.checkout.attempts"] != 3 {
		t.Fatalf("expected 3 checkout attempts, got %d", totals["commerce.checkout.attempts"])
	}
	if totals["commerce.order.cancellations"] != 1 {
		t.Fatalf("expected 1 cancellation, got %d", totals["commerce.order.cancellations"])
	}

	var nilMetrics *OrderMetrics
	nilMetrics.RecordCheckout(ctx, "success")
}
