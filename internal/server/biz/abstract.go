package biz

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/metrics"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/pkg/xtime"
	"github.com/looplj/classhub/internal/store"
	"github.com/looplj/classhub/internal/tracing"
)

type AbstractServiceParams struct {
	fx.In

	DB         *store.DB
	Authorizer *authz.Authorizer
	Recorder   *audit.Recorder
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.Metrics `optional:"true"`
	Clock      xtime.Clock      `optional:"true"`
}

// AbstractService holds what every governed operation needs: the store, the
// authorizer, the audit recorder and the post-commit side effects.
type AbstractService struct {
	db         *store.DB
	authorizer *authz.Authorizer
	recorder   *audit.Recorder
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	clock      xtime.Clock
}

func NewAbstractService(params AbstractServiceParams) *AbstractService {
	clock := params.Clock
	if clock == nil {
		clock = xtime.Real()
	}

	return &AbstractService{
		db:         params.DB,
		authorizer: params.Authorizer,
		recorder:   params.Recorder,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		clock:      clock,
	}
}

func (a *AbstractService) RunInTransaction(ctx context.Context, fn func(context.Context) error) error {
	return a.db.RunInTx(ctx, fn)
}

// unit carries the actor and the deferred side effects of one governed operation.
type unit struct {
	actor    *authz.Actor
	messages []notify.Message
}

func (u *unit) notify(msgs ...notify.Message) {
	u.messages = append(u.messages, msgs...)
}

// govern runs fn as a single unit of work. Notifications queued by fn are
// dispatched only after the transaction commits.
func govern[T any](ctx context.Context, a *AbstractService, operation string, fn func(ctx context.Context, u *unit) (T, error)) (T, error) {
	var zero T

	start := time.Now()
	ctx = tracing.WithOperationName(tracing.EnsureTraceID(ctx), operation)

	actor, err := authz.ActorFrom(ctx)
	if err != nil {
		a.metrics.Observe(ctx, operation, start, err)
		return zero, err
	}

	u := &unit{actor: actor}

	var result T

	err = a.db.RunInTx(ctx, func(ctx context.Context) error {
		var err error

		result, err = fn(ctx, u)

		return err
	})

	a.metrics.Observe(ctx, operation, start, err)

	if err != nil {
		if errs.IsDomain(err) {
			log.Warn(ctx, "operation rejected",
				log.String("operation", operation),
				log.String("kind", errs.KindOf(err).String()),
				log.Cause(err),
			)
		} else {
			log.Error(ctx, "operation failed",
				log.String("operation", operation),
				log.Cause(err),
			)
		}

		return zero, err
	}

	if len(u.messages) > 0 {
		a.dispatcher.Dispatch(ctx, u.messages...)

		for _, msg := range u.messages {
			a.metrics.Notified(ctx, msg.Type, 1)
		}
	}

	return result, nil
}

// read resolves the actor for a read path that needs no transaction.
func read[T any](ctx context.Context, a *AbstractService, operation string, fn func(ctx context.Context, actor *authz.Actor) (T, error)) (T, error) {
	var zero T

	ctx = tracing.WithOperationName(tracing.EnsureTraceID(ctx), operation)

	actor, err := authz.ActorFrom(ctx)
	if err != nil {
		return zero, err
	}

	return fn(ctx, actor)
}

func (a *AbstractService) authorize(ctx context.Context, actor *authz.Actor, req authz.Request) error {
	return a.authorizer.Authorize(ctx, actor, req)
}

func (a *AbstractService) record(ctx context.Context, e audit.Entry) error {
	_, err := a.recorder.Record(ctx, e)
	return err
}

func (a *AbstractService) now() time.Time {
	return a.clock.Now().UTC()
}

// actorRef is the user reference written to *_by columns; nil for the system principal.
func actorRef(ctx context.Context) *int64 {
	return authz.AuditActorID(ctx)
}
