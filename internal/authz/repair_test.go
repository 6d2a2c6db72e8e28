package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

func TestRunWithRepair(t *testing.T) {
	t.Run("system", func(t *testing.T) {
		ctx := NewSystemContext(context.Background())

		reason, err := RunWithRepair(ctx, "relock-team", func(ctx context.Context) (string, error) {
			info, ok := GetRepairInfo(ctx)
			require.True(t, ok)

			return info.Reason, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "relock-team", reason)
		assert.False(t, IsRepairActive(ctx), "repair must not leak outside the closure")
	})

	t.Run("admin user", func(t *testing.T) {
		ctx := NewUserContext(context.Background(), Actor{ID: 1, Role: objects.RoleAdmin})

		_, err := RunWithRepair(ctx, "fix", func(ctx context.Context) (bool, error) {
			return IsRepairActive(ctx), nil
		})
		require.NoError(t, err)
	})

	t.Run("teacher is forbidden", func(t *testing.T) {
		ctx := NewUserContext(context.Background(), Actor{ID: 2, Role: objects.RoleTeacher})

		called := false
		_, err := RunWithRepair(ctx, "fix", func(ctx context.Context) (bool, error) {
			called = true
			return true, nil
		})
		require.ErrorIs(t, err, errs.ErrForbidden)
		assert.False(t, called)
	})

	t.Run("reason required", func(t *testing.T) {
		_, err := WithRepair(NewSystemContext(context.Background()), "")
		require.ErrorIs(t, err, errs.ErrValidation)
	})
}
