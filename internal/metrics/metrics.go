// Package metrics records counters and latencies for governed operations.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdk "go.opentelemetry.io/otel/sdk/metric"

	"github.com/looplj/classhub/internal/errs"
)

const meterName = "github.com/looplj/classhub"

type Metrics struct {
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
	dispatched  metric.Int64Counter
}

// NewMetrics falls back to a noop meter when provider is nil.
func NewMetrics(provider *sdk.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return newMetrics(noop.NewMeterProvider())
	}

	return newMetrics(provider)
}

func newMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	transitions, err := meter.Int64Counter("classhub.transitions",
		metric.WithDescription("Governed operations by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("classhub.transition.duration",
		metric.WithDescription("Governed operation latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatched, err := meter.Int64Counter("classhub.notifications",
		metric.WithDescription("Notifications handed to the dispatcher"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transitions: transitions,
		duration:    duration,
		dispatched:  dispatched,
	}, nil
}

// Outcome maps an operation error to the outcome attribute.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}

	return errs.KindOf(err).String()
}

// Observe records one finished operation. A nil receiver is a noop.
func (m *Metrics) Observe(ctx context.Context, operation string, start time.Time, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", Outcome(err)),
	)

	m.transitions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
}

func (m *Metrics) Notified(ctx context.Context, kind string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.dispatched.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", kind)))
}
