package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/looplj/classhub/internal/errs"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errs.Forbidden("no"), "forbidden"},
		{errs.InvalidTransition("draft", "active"), "conflict"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	reader := sdk.NewManualReader()
	provider := sdk.NewMeterProvider(sdk.WithReader(reader))

	m, err := NewMetrics(provider)
	require.NoError(t, err)

	m.Observe(ctx, "team.create", time.Now(), nil)
	m.Observe(ctx, "team.create", time.Now(), errs.Conflict("dup"))
	m.Notified(ctx, "team.join_request", 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}

	sum, ok := byName["classhub.transitions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)

	hist, ok := byName["classhub.transition.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)

	notified, ok := byName["classhub.notifications"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, notified.DataPoints, 1)
	assert.Equal(t, int64(2), notified.DataPoints[0].Value)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe(context.Background(), "x", time.Now(), nil)
	m.Notified(context.Background(), "x", 1)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.Nil(t, p)

	m, err := NewMetrics(p)
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = NewProvider(Config{Enabled: true, Exporter: "otlp"})
	require.Error(t, err)
}
