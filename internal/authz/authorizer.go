package authz

import (
	"context"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
)

// Authorizer combines the role table with the ABAC registry.
type Authorizer struct {
	registry *Registry
}

func NewAuthorizer(registry *Registry) *Authorizer {
	return &Authorizer{registry: registry}
}

func (a *Authorizer) Registry() *Registry {
	return a.registry
}

// Authorize returns nil when actor may perform req, otherwise an
// Unauthenticated or Forbidden error. It has no side effects besides logging.
func (a *Authorizer) Authorize(ctx context.Context, actor *Actor, req Request) error {
	if actor == nil {
		return errs.Unauthenticated("authentication required")
	}

	if !AllowedByRole(actor.Role, req.Resource, req.Action) {
		log.Debug(ctx, "authz: denied by role",
			log.Int64("actor_id", actor.ID),
			log.String("role", string(actor.Role)),
			log.String("rule", req.Key()),
		)

		return errs.Forbidden("role %s may not %s %s", actor.Role, req.Action, req.Resource)
	}

	ok, err := a.registry.Evaluate(ctx, *actor, req)
	if err != nil {
		log.Warn(ctx, "authz: rule evaluation failed",
			log.String("rule", req.Key()),
			log.Cause(err),
		)

		return errs.Wrap(errs.KindForbidden, err, "rule %s could not be evaluated", req.Key())
	}

	if !ok {
		log.Debug(ctx, "authz: denied by rule",
			log.Int64("actor_id", actor.ID),
			log.String("rule", req.Key()),
		)

		return errs.Forbidden("denied by rule %s", req.Key())
	}

	return nil
}
