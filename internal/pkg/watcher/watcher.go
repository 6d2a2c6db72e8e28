// Package watcher broadcasts best-effort signals between goroutines and, with
// redis, between processes. It carries cache invalidations, not durable events:
// slow subscribers drop values.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/looplj/classhub/internal/log"
)

// Notifier publishes values to every current subscriber.
// The stop function returned by Watch must be called exactly once.
type Notifier[T any] interface {
	Watch() (<-chan T, func())
	Notify(ctx context.Context, v T) error
}

// New returns a redis backed notifier when client is non-nil, otherwise an
// in-process one.
func New[T any](client *redis.Client, channel string, buffer int) (Notifier[T], error) {
	if client == nil {
		return NewMemory[T](buffer), nil
	}

	return NewRedis[T](client, channel, buffer)
}

type subscribers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan T
	buffer int
}

func newSubscribers[T any](buffer int) *subscribers[T] {
	return &subscribers[T]{subs: map[uint64]chan T{}, buffer: max(buffer, 1)}
}

// add registers a subscriber; onChange runs under the lock with the new count.
func (s *subscribers[T]) add(onChange func(active int)) (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan T, s.buffer)
	s.subs[id] = ch

	if onChange != nil {
		onChange(len(s.subs))
	}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		sub, ok := s.subs[id]
		if !ok {
			return
		}

		delete(s.subs, id)
		close(sub)

		if onChange != nil {
			onChange(len(s.subs))
		}
	}
}

func (s *subscribers[T]) broadcast(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

type memoryNotifier[T any] struct {
	subs *subscribers[T]
}

func NewMemory[T any](buffer int) Notifier[T] {
	return &memoryNotifier[T]{subs: newSubscribers[T](buffer)}
}

func (m *memoryNotifier[T]) Watch() (<-chan T, func()) {
	return m.subs.add(nil)
}

func (m *memoryNotifier[T]) Notify(_ context.Context, v T) error {
	m.subs.broadcast(v)
	return nil
}

type redisNotifier[T any] struct {
	client  *redis.Client
	channel string
	subs    *subscribers[T]

	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedis subscribes to channel lazily, while at least one watcher is active.
func NewRedis[T any](client *redis.Client, channel string, buffer int) (Notifier[T], error) {
	if client == nil {
		return nil, errors.New("watcher: redis client is required")
	}

	if channel == "" {
		return nil, errors.New("watcher: channel is required")
	}

	return &redisNotifier[T]{client: client, channel: channel, subs: newSubscribers[T](buffer)}, nil
}

func (r *redisNotifier[T]) Watch() (<-chan T, func()) {
	return r.subs.add(func(active int) {
		switch {
		case active == 1 && r.pubsub == nil:
			r.start()
		case active == 0:
			r.stop()
		}
	})
}

func (r *redisNotifier[T]) Notify(ctx context.Context, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *redisNotifier[T]) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.pubsub = r.client.Subscribe(ctx, r.channel)

	// Wait for the subscription confirmation so a Notify right after Watch is seen.
	_, _ = r.pubsub.Receive(ctx)

	go r.receive(ctx, r.pubsub)
}

func (r *redisNotifier[T]) receive(ctx context.Context, ps *redis.PubSub) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}

			log.Warn(ctx, "watcher receive failed", log.String("channel", r.channel), log.Cause(err))

			continue
		}

		var v T
		if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
			log.Warn(ctx, "watcher decode failed", log.String("channel", r.channel), log.Cause(err))
			continue
		}

		r.subs.broadcast(v)
	}
}

func (r *redisNotifier[T]) stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}

	if r.pubsub != nil {
		_ = r.pubsub.Close()
		r.pubsub = nil
	}
}
