package xcache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type actor struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

func TestNewFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	t.Run("disabled", func(t *testing.T) {
		c, err := NewFromConfig[actor](Config{}, nil)
		require.NoError(t, err)
		require.Equal(t, "noop", c.GetType())

		require.NoError(t, c.Set(t.Context(), "a", actor{ID: 1}))
		_, err = c.Get(t.Context(), "a")
		require.Error(t, err)
	})

	t.Run("memory", func(t *testing.T) {
		c, err := NewFromConfig[actor](Config{Mode: ModeMemory, Memory: MemoryConfig{Expiration: time.Minute}}, nil)
		require.NoError(t, err)

		require.NoError(t, c.Set(t.Context(), "a", actor{ID: 1, Role: "student"}))
		got, err := c.Get(t.Context(), "a")
		require.NoError(t, err)
		require.Equal(t, actor{ID: 1, Role: "student"}, got)

		require.NoError(t, c.Delete(t.Context(), "a"))
		_, err = c.Get(t.Context(), "a")
		require.Error(t, err)
	})

	t.Run("redis requires client", func(t *testing.T) {
		_, err := NewFromConfig[actor](Config{Mode: ModeRedis}, nil)
		require.Error(t, err)
	})

	t.Run("redis", func(t *testing.T) {
		c, err := NewFromConfig[actor](Config{Mode: ModeRedis}, client)
		require.NoError(t, err)

		require.NoError(t, c.Set(t.Context(), "b", actor{ID: 2, Role: "teacher"}))
		require.True(t, mr.Exists("classhub:cache:b"))

		got, err := c.Get(t.Context(), "b")
		require.NoError(t, err)
		require.Equal(t, int64(2), got.ID)
	})

	t.Run("two level reads through to redis", func(t *testing.T) {
		c, err := NewFromConfig[actor](Config{Mode: ModeTwoLevel}, client)
		require.NoError(t, err)

		seed := NewRedis[actor](client)
		require.NoError(t, seed.Set(t.Context(), "c", actor{ID: 3, Role: "admin"}))

		got, err := c.Get(t.Context(), "c")
		require.NoError(t, err)
		require.Equal(t, "admin", got.Role)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := NewFromConfig[actor](Config{Mode: "disk"}, nil)
		require.Error(t, err)
	})
}
