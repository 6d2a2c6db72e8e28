package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdk "go.opentelemetry.io/otel/sdk/metric"

	"github.com/looplj/classhub/internal/log"
)

type Config struct {
	Enabled bool `conf:"enabled" yaml:"enabled" json:"enabled"`
	// Exporter is stdout, the only supported exporter for now.
	Exporter string        `conf:"exporter" yaml:"exporter" json:"exporter"`
	Interval time.Duration `conf:"interval" yaml:"interval" json:"interval"`
}

// NewProvider returns nil when metrics are disabled.
func NewProvider(cfg Config) (*sdk.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		exporter sdk.Exporter
		err      error
	)

	switch cfg.Exporter {
	case "", "stdout":
		exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %s", cfg.Exporter)
	}

	if err != nil {
		return nil, fmt.Errorf("create metrics exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	reader := sdk.NewPeriodicReader(exporter, sdk.WithInterval(interval))

	return sdk.NewMeterProvider(sdk.WithReader(reader)), nil
}

func SetupMetrics(provider *sdk.MeterProvider, name string) error {
	if provider == nil {
		return nil
	}

	otel.SetMeterProvider(provider)
	log.Info(context.Background(), "metrics enabled", log.String("service", name))

	return nil
}
