package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/looplj/classhub/internal/log"
)

type Config struct {
	// Sinks lists the enabled sinks: store, redis, log.
	Sinks []string `conf:"sinks" yaml:"sinks" json:"sinks"`
	// Async sends on background goroutines; otherwise Dispatch blocks.
	Async       bool          `conf:"async" yaml:"async" json:"async"`
	Concurrency int64         `conf:"concurrency" yaml:"concurrency" json:"concurrency"`
	Timeout     time.Duration `conf:"timeout" yaml:"timeout" json:"timeout"`
	RedisPrefix string        `conf:"redis_prefix" yaml:"redis_prefix" json:"redis_prefix"`
	RedisMaxLen int64         `conf:"redis_max_len" yaml:"redis_max_len" json:"redis_max_len"`
}

// Dispatcher hands committed notifications to a Sink without letting delivery
// failures reach the caller.
type Dispatcher struct {
	sink    Sink
	cfg     Config
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	onError func(ctx context.Context, msg Message, err error)
}

func NewDispatcher(sink Sink, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Dispatcher{
		sink: sink,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(cfg.Concurrency),
	}
}

// OnError registers a hook called after a failed send, in addition to logging.
func (d *Dispatcher) OnError(fn func(ctx context.Context, msg Message, err error)) {
	d.onError = fn
}

// Dispatch delivers msgs. It must be called after the transition committed.
// Values from ctx are kept but its cancellation is not.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	if len(msgs) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		log.Warn(ctx, "notification dispatcher closed, dropping messages", log.Int("count", len(msgs)))
		return
	}

	ctx = context.WithoutCancel(ctx)

	if !d.cfg.Async {
		for _, msg := range msgs {
			d.send(ctx, msg)
		}

		return
	}

	d.wg.Add(len(msgs))

	for _, msg := range msgs {
		go func() {
			defer d.wg.Done()

			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.fail(ctx, msg, err)
				return
			}
			defer d.sem.Release(1)

			d.send(ctx, msg)
		}()
	}
}

func (d *Dispatcher) send(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.sink.Send(ctx, msg); err != nil {
		d.fail(ctx, msg, err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, msg Message, err error) {
	log.Error(ctx, "notification dispatch failed",
		log.Int64("user_id", msg.UserID),
		log.String("type", msg.Type),
		log.Cause(err),
	)

	if d.onError != nil {
		d.onError(ctx, msg, err)
	}
}

// Close stops accepting messages and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
