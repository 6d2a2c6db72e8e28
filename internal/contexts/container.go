package contexts

import (
	"context"
)

// contextContainer contains all values in the context.
type contextContainer struct {
	TraceID       *string
	OperationName *string
	Source        *Source
}

func (c *contextContainer) clone() *contextContainer {
	cp := *c
	return &cp
}

// getContainer retrieves the container from context, or an empty one when absent.
func getContainer(ctx context.Context) *contextContainer {
	if ctx == nil {
		return &contextContainer{}
	}

	if container, ok := ctx.Value(containerContextKey).(*contextContainer); ok {
		return container
	}

	return &contextContainer{}
}

// update stores a modified copy of the container so parent contexts keep their values.
func update(ctx context.Context, fn func(c *contextContainer)) context.Context {
	container := getContainer(ctx).clone()
	fn(container)

	return context.WithValue(ctx, containerContextKey, container)
}
