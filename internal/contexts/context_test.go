package contexts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	ctx := t.Context()

	_, ok := GetTraceID(ctx)
	require.False(t, ok)

	ctx = WithTraceID(ctx, "at-1")
	id, ok := GetTraceID(ctx)
	require.True(t, ok)
	require.Equal(t, "at-1", id)
}

func TestOperationName_DoesNotLeakToParent(t *testing.T) {
	parent := WithOperationName(t.Context(), "outer")
	child := WithOperationName(parent, "inner")

	name, ok := GetOperationName(parent)
	require.True(t, ok)
	require.Equal(t, "outer", name)

	name, ok = GetOperationName(child)
	require.True(t, ok)
	require.Equal(t, "inner", name)
}

func TestValuesSurviveUnrelatedUpdates(t *testing.T) {
	ctx := WithTraceID(t.Context(), "at-2")
	ctx = WithSource(ctx, SourceCLI)
	ctx = WithOperationName(ctx, "team.create")

	id, ok := GetTraceID(ctx)
	require.True(t, ok)
	require.Equal(t, "at-2", id)
	require.Equal(t, SourceCLI, GetSource(ctx))
}

func TestNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is tolerated by readers.
	var ctx context.Context

	_, ok := GetTraceID(ctx)
	require.False(t, ok)
	require.Equal(t, SourceAPI, GetSource(ctx))
}
