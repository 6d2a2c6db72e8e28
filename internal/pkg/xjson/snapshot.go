package xjson

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Snapshot encodes v for storage. A nil v yields nil so absent snapshots stay NULL.
func Snapshot(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	if string(b) == string(NullJSON) {
		return nil, nil
	}

	s := string(b)

	return &s, nil
}

// Annotate sets path to value on an object snapshot, e.g. "_meta.reason".
// A nil snapshot starts from an empty object.
func Annotate(snapshot *string, path string, value any) (*string, error) {
	base := string(EmptyJSON)
	if snapshot != nil {
		base = *snapshot
	}

	out, err := sjson.Set(base, path, value)
	if err != nil {
		return nil, fmt.Errorf("annotate snapshot %s: %w", path, err)
	}

	return &out, nil
}
