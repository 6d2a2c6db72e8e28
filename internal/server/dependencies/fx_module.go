package dependencies

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/blob"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/metrics"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/pkg/xredis"
	"github.com/looplj/classhub/internal/pkg/xtime"
	"github.com/looplj/classhub/internal/server/db"
	"github.com/looplj/classhub/internal/store"
)

var Module = fx.Module("dependencies",
	fx.Provide(log.New),
	fx.Provide(xtime.Real),
	fx.Provide(NewDB),
	fx.Provide(NewRedis),
	fx.Provide(NewBlob),
	fx.Provide(NewDispatcher),
	fx.Provide(metrics.NewMetrics),
	fx.Provide(authz.NewRegistryFromConfig),
	fx.Provide(authz.NewAuthorizer),
	fx.Provide(audit.NewRecorder),
	fx.Invoke(func(lc fx.Lifecycle, database *store.DB, client *redis.Client, dispatcher *notify.Dispatcher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				var result error

				// Drain notifications first, the store sink still needs the database.
				if err := dispatcher.Close(ctx); err != nil {
					result = multierror.Append(result, err)
				}

				if client != nil {
					if err := client.Close(); err != nil {
						result = multierror.Append(result, err)
					}
				}

				if err := database.Close(); err != nil {
					result = multierror.Append(result, err)
				}

				return result
			},
		})
	}),
)

func NewDB(cfg db.Config, clock xtime.Clock) (*store.DB, error) {
	s, err := db.Open(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	return s.WithClock(clock), nil
}

// NewRedis returns a nil client when redis is not configured.
func NewRedis(cfg xredis.Config) (*redis.Client, error) {
	return xredis.NewClient(context.Background(), cfg)
}

func NewBlob(cfg blob.Config, clock xtime.Clock) (*blob.Store, error) {
	s, err := blob.New(cfg)
	if err != nil {
		return nil, err
	}

	return s.WithClock(clock), nil
}

func NewDispatcher(cfg notify.Config, database *store.DB, client *redis.Client) (*notify.Dispatcher, error) {
	sink, err := notify.NewSinkFromConfig(cfg, database, client)
	if err != nil {
		return nil, err
	}

	return notify.NewDispatcher(sink, cfg), nil
}
