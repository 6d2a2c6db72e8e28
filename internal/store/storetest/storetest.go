// Package storetest opens throwaway stores for tests.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/server/db"
	"github.com/looplj/classhub/internal/store"
)

var seq atomic.Int64

// New returns a migrated in-memory sqlite store that is closed with the test.
func New(t testing.TB) *store.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:storetest-%d?mode=memory", seq.Add(1))

	s, err := db.Open(context.Background(), db.Config{
		Dialect:     "sqlite",
		DSN:         dsn,
		AutoMigrate: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
