package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(t.Context())

	id, ok := GetTraceID(ctx)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(id, "ch-"))

	again := EnsureTraceID(ctx)
	got, _ := GetTraceID(again)
	require.Equal(t, id, got)
}
