package authz

import (
	"context"
	"time"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
)

// repairKey is an unexported key type to prevent external forgery.
type repairKey struct{}

// RepairInfo describes an active repair.
type RepairInfo struct {
	Reason    string
	Timestamp time.Time
	Principal Principal
}

// WithRepair marks ctx so the frozen-resource guards let writes through.
// Only the System principal or an admin user may repair. reason must be a
// stable identifier; it is logged and written to the audit entry.
func WithRepair(ctx context.Context, reason string) (context.Context, error) {
	p, ok := GetPrincipal(ctx)
	if !ok {
		return nil, errs.Unauthenticated("repair requires a principal")
	}

	if !p.IsSystem() && !p.Actor.IsAdmin() {
		return nil, errs.Forbidden("repair requires admin, got %s", p.String())
	}

	if reason == "" {
		return nil, errs.Validation("repair reason is required")
	}

	info := RepairInfo{
		Reason:    reason,
		Timestamp: time.Now(),
		Principal: p,
	}

	log.Warn(ctx, "authz: repair",
		log.String("principal", p.String()),
		log.String("reason", reason),
	)

	return context.WithValue(ctx, repairKey{}, info), nil
}

// RunWithRepair executes fn with the repair context, limiting its scope to the closure.
func RunWithRepair[T any](ctx context.Context, reason string, fn func(ctx context.Context) (T, error)) (T, error) {
	repairCtx, err := WithRepair(ctx, reason)
	if err != nil {
		var zero T
		return zero, err
	}

	return fn(repairCtx)
}

func GetRepairInfo(ctx context.Context) (RepairInfo, bool) {
	info, ok := ctx.Value(repairKey{}).(RepairInfo)
	return info, ok
}

func IsRepairActive(ctx context.Context) bool {
	_, ok := GetRepairInfo(ctx)
	return ok
}
