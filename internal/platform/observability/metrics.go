package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/commerce/internal/services"
)

// OrderMetrics records checkout and cancellation counters through OpenTelemetry.
type OrderMetrics struct {
	checkouts     metric.Int64Counter
	cancellations metric.Int64Counter
}

var _ services.OrderMetrics = (*OrderMetrics)(nil)

// NewOrderMetrics registers the counters on meter, or on the global provider when nil.
func NewOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	checkouts, err := meter.Int64Counter("commerce.checkout.attempts",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		return nil, err
	}
	cancellations, err := meter.Int64Counter("commerce.order.cancellations",
		metric.WithDescription("Order cancellations by initiator"))
	if err != nil {
		return nil, err
	}
	return &OrderMetrics{checkouts: checkouts, cancellations: cancellations}, nil
}

func (m *OrderMetrics) RecordCheckout(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *OrderMetrics) RecordCancellation(ctx context.Context, initiatedBy services.Initiator) {
	if m == nil {
		return
	}
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("initiated_by", string(initiatedBy))))
}
