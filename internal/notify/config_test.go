package notify_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/store/storetest"
)

func TestNewSinkFromConfig(t *testing.T) {
	db := storetest.New(t)

	t.Run("defaults to the store", func(t *testing.T) {
		sink, err := notify.NewSinkFromConfig(notify.Config{}, db, nil)
		require.NoError(t, err)
		assert.IsType(t, &notify.StoreSink{}, sink)
	})

	t.Run("single sink is not wrapped", func(t *testing.T) {
		sink, err := notify.NewSinkFromConfig(notify.Config{Sinks: []string{notify.SinkLog}}, db, nil)
		require.NoError(t, err)
		assert.IsType(t, notify.LogSink{}, sink)
	})

	t.Run("several sinks fan out", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

		t.Cleanup(func() { _ = client.Close() })

		sink, err := notify.NewSinkFromConfig(notify.Config{
			Sinks:       []string{notify.SinkStore, notify.SinkRedis},
			RedisPrefix: "test",
			RedisMaxLen: 10,
		}, db, client)
		require.NoError(t, err)

		multi, ok := sink.(notify.Multi)
		require.True(t, ok)
		require.Len(t, multi, 2)
		assert.IsType(t, &notify.RedisSink{}, multi[1])
	})

	t.Run("redis without a client", func(t *testing.T) {
		_, err := notify.NewSinkFromConfig(notify.Config{Sinks: []string{notify.SinkRedis}}, db, nil)
		require.Error(t, err)
	})

	t.Run("unknown sink", func(t *testing.T) {
		_, err := notify.NewSinkFromConfig(notify.Config{Sinks: []string{"pager"}}, db, nil)
		require.Error(t, err)
	})
}
