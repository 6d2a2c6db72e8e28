package notify

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/looplj/classhub/internal/store"
)

const (
	SinkStore = "store"
	SinkRedis = "redis"
	SinkLog   = "log"
)

// NewSinkFromConfig builds the configured sinks. With none configured
// notifications are stored in the database.
func NewSinkFromConfig(cfg Config, db *store.DB, client *redis.Client) (Sink, error) {
	names := cfg.Sinks
	if len(names) == 0 {
		names = []string{SinkStore}
	}

	sinks := make(Multi, 0, len(names))

	for _, name := range names {
		switch name {
		case SinkStore:
			sinks = append(sinks, NewStoreSink(db))
		case SinkRedis:
			if client == nil {
				return nil, fmt.Errorf("notify sink %s requires redis", name)
			}

			sinks = append(sinks, NewRedisSink(client, cfg.RedisPrefix, cfg.RedisMaxLen))
		case SinkLog:
			sinks = append(sinks, LogSink{})
		default:
			return nil, fmt.Errorf("unknown notify sink %q", name)
		}
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}

	return sinks, nil
}
