package tracing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/looplj/classhub/internal/contexts"
)

// GenerateTraceID generate trace id, format as ch-{{uuid}}.
func GenerateTraceID() string {
	return fmt.Sprintf("ch-%s", uuid.New().String())
}

// WithTraceID store trace id to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return contexts.WithTraceID(ctx, traceID)
}

// GetTraceID get trace id from context.
func GetTraceID(ctx context.Context) (string, bool) {
	return contexts.GetTraceID(ctx)
}

// EnsureTraceID returns ctx unchanged if it already carries a trace id.
func EnsureTraceID(ctx context.Context) context.Context {
	if _, ok := GetTraceID(ctx); ok {
		return ctx
	}

	return WithTraceID(ctx, GenerateTraceID())
}

// WithOperationName store operation name to context.
func WithOperationName(ctx context.Context, name string) context.Context {
	return contexts.WithOperationName(ctx, name)
}

// GetOperationName get operation name from context.
func GetOperationName(ctx context.Context) (string, bool) {
	return contexts.GetOperationName(ctx)
}
