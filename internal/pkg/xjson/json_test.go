package xjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	s, err := Snapshot(nil)
	require.NoError(t, err)
	require.Nil(t, s)

	var nilMap map[string]any

	s, err = Snapshot(nilMap)
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = Snapshot(map[string]any{"status": "open"})
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"open"}`, *s)
}

func TestAnnotate(t *testing.T) {
	base := `{"status":"active"}`

	out, err := Annotate(&base, "_meta.reason", "stages missing after import")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"active","_meta":{"reason":"stages missing after import"}}`, *out)

	out, err = Annotate(nil, "reason", "x")
	require.NoError(t, err)
	require.JSONEq(t, `{"reason":"x"}`, *out)
}
