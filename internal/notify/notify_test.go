package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/notify/notifytest"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store"
	"github.com/looplj/classhub/internal/store/storetest"
)

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)

	u := &store.User{Username: "s", Role: objects.RoleStudent}
	require.NoError(t, db.CreateUser(ctx, u))

	sink := notify.NewStoreSink(db)
	require.NoError(t, sink.Send(ctx, notify.Message{
		UserID:  u.ID,
		Type:    notify.TypeJoinDecision,
		Title:   "Join request approved",
		Payload: map[string]any{"teamId": 3},
	}))

	ns, err := db.ListNotifications(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notify.TypeJoinDecision, ns[0].Type)
	assert.JSONEq(t, `{"teamId":3}`, ns[0].PayloadJSON)
	assert.Nil(t, ns[0].Body)
}

func TestRedisSink(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	sink := notify.NewRedisSink(client, "", 2)

	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Send(ctx, notify.Message{UserID: 5, Type: notify.TypeStageChanged, Title: title}))
	}

	items, err := client.LRange(ctx, sink.Key(5), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest notify.Message
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, "c", newest.Title)
	assert.Equal(t, "classhub:notifications:5", sink.Key(5))
}

func TestMulti_CollectsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)

	ok := notifytest.NewMockSink(ctrl)
	bad := notifytest.NewMockSink(ctrl)

	msg := notify.Message{UserID: 1, Type: notify.TypeProjectReviewed}

	ok.EXPECT().Send(gomock.Any(), msg).Return(nil)
	bad.EXPECT().Send(gomock.Any(), msg).Return(errors.New("down"))

	err := notify.Multi{ok, bad}.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestDispatcher(t *testing.T) {
	t.Run("sync failure is swallowed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sink := notifytest.NewMockSink(ctrl)
		sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("unreachable")).Times(2)

		d := notify.NewDispatcher(sink, notify.Config{})

		var failures atomic.Int32
		d.OnError(func(context.Context, notify.Message, error) { failures.Add(1) })

		d.Dispatch(context.Background(), notify.Message{UserID: 1}, notify.Message{UserID: 2})
		assert.Equal(t, int32(2), failures.Load())
	})

	t.Run("async survives caller cancellation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sink := notifytest.NewMockSink(ctrl)

		var sent atomic.Int32
		sink.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ notify.Message) error {
			assert.NoError(t, ctx.Err())
			sent.Add(1)

			return nil
		}).Times(3)

		d := notify.NewDispatcher(sink, notify.Config{Async: true, Concurrency: 2})

		ctx, cancel := context.WithCancel(context.Background())
		d.Dispatch(ctx, notify.Message{UserID: 1}, notify.Message{UserID: 2}, notify.Message{UserID: 3})
		cancel()

		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()

		require.NoError(t, d.Close(closeCtx))
		assert.Equal(t, int32(3), sent.Load())
	})

	t.Run("closed dispatcher drops", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sink := notifytest.NewMockSink(ctrl)

		d := notify.NewDispatcher(sink, notify.Config{})
		require.NoError(t, d.Close(context.Background()))

		d.Dispatch(context.Background(), notify.Message{UserID: 1})
	})
}
