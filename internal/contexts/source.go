package contexts

import "context"

// Source describes where a request entered the system.
type Source string

const (
	SourceCLI  Source = "cli"
	SourceAPI  Source = "api"
	SourceTest Source = "test"
)

// WithSource stores the request source in the context.
func WithSource(ctx context.Context, source Source) context.Context {
	return update(ctx, func(c *contextContainer) {
		c.Source = &source
	})
}

// GetSource retrieves the request source, defaulting to api.
func GetSource(ctx context.Context) Source {
	container := getContainer(ctx)
	if container.Source != nil {
		return *container.Source
	}

	return SourceAPI
}
