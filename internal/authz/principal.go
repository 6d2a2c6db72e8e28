package authz

import (
	"context"
	"fmt"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

// PrincipalType defines authorization principal types.
type PrincipalType int

const (
	PrincipalTypeUnknown PrincipalType = iota
	// PrincipalTypeSystem is used by command line tooling and internal operations.
	PrincipalTypeSystem
	PrincipalTypeUser
	// PrincipalTypeTest is only for tests.
	PrincipalTypeTest
)

func (p PrincipalType) String() string {
	switch p {
	case PrincipalTypeSystem:
		return "system"
	case PrincipalTypeUser:
		return "user"
	case PrincipalTypeTest:
		return "test"
	default:
		return "unknown"
	}
}

// Actor is the resolved identity an operation runs as.
type Actor struct {
	ID   int64        `json:"id"`
	Role objects.Role `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == objects.RoleAdmin
}

func (a Actor) IsStaff() bool {
	return a.Role.IsStaff()
}

// Principal represents the authorization principal of a request.
// Each request can only have one Principal, guaranteed by WithPrincipal's set-once semantics.
type Principal struct {
	Type  PrincipalType
	Actor Actor
}

func (p Principal) IsSystem() bool {
	return p.Type == PrincipalTypeSystem
}

func (p Principal) IsUser() bool {
	return p.Type == PrincipalTypeUser
}

// String returns a stable representation for logs.
func (p Principal) String() string {
	switch p.Type {
	case PrincipalTypeSystem:
		return "system"
	case PrincipalTypeUser:
		return fmt.Sprintf("user:%d:%s", p.Actor.ID, p.Actor.Role)
	case PrincipalTypeTest:
		return "test"
	default:
		return "unknown"
	}
}

// principalKey is an unexported key type to prevent external forgery.
type principalKey struct{}

// WithPrincipal sets Principal, returns error if a different one already exists.
func WithPrincipal(ctx context.Context, p Principal) (context.Context, error) {
	if existing, ok := GetPrincipal(ctx); ok {
		if existing != p {
			return ctx, fmt.Errorf("authz: principal conflict: existing=%s, new=%s", existing.String(), p.String())
		}

		return ctx, nil
	}

	return context.WithValue(ctx, principalKey{}, p), nil
}

func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// NewUserContext creates context with a User principal.
func NewUserContext(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, principalKey{}, Principal{Type: PrincipalTypeUser, Actor: actor})
}

// NewSystemContext creates context with the System principal. It acts as an
// admin with id 0 and is recorded in the audit log without an actor id.
func NewSystemContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, principalKey{}, Principal{
		Type:  PrincipalTypeSystem,
		Actor: Actor{Role: objects.RoleAdmin},
	})
}

// NewTestContext creates context with the Test principal acting as actor.
func NewTestContext(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, principalKey{}, Principal{Type: PrincipalTypeTest, Actor: actor})
}

// ActorFrom returns the actor of the request, Unauthenticated when there is none.
func ActorFrom(ctx context.Context) (*Actor, error) {
	p, ok := GetPrincipal(ctx)
	if !ok || p.Type == PrincipalTypeUnknown {
		return nil, errs.Unauthenticated("no actor in context")
	}

	actor := p.Actor

	return &actor, nil
}

// AuditActorID is the actor id written to the audit log, nil for the system.
func AuditActorID(ctx context.Context) *int64 {
	p, ok := GetPrincipal(ctx)
	if !ok || p.IsSystem() || p.Type == PrincipalTypeUnknown {
		return nil
	}

	id := p.Actor.ID

	return &id
}
