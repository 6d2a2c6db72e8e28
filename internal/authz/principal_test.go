package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

func TestPrincipal_String(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want string
	}{
		{"system", Principal{Type: PrincipalTypeSystem}, "system"},
		{"user", Principal{Type: PrincipalTypeUser, Actor: Actor{ID: 123, Role: objects.RoleStudent}}, "user:123:student"},
		{"test", Principal{Type: PrincipalTypeTest}, "test"},
		{"unknown", Principal{Type: PrincipalType(999)}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.String(); got != tt.want {
				t.Errorf("Principal.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithPrincipal_SetOnce(t *testing.T) {
	ctx := context.Background()
	p1 := Principal{Type: PrincipalTypeUser, Actor: Actor{ID: 1, Role: objects.RoleStudent}}

	ctx, err := WithPrincipal(ctx, p1)
	require.NoError(t, err)

	ctx2, err := WithPrincipal(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, ctx, ctx2, "setting same principal should be idempotent")

	_, err = WithPrincipal(ctx, Principal{Type: PrincipalTypeUser, Actor: Actor{ID: 1, Role: objects.RoleAdmin}})
	require.Error(t, err, "changing the role of the principal should fail")

	_, err = WithPrincipal(ctx, Principal{Type: PrincipalTypeSystem})
	require.Error(t, err)
}

func TestActorFrom(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := ActorFrom(context.Background())
		require.ErrorIs(t, err, errs.ErrUnauthenticated)
	})

	t.Run("user", func(t *testing.T) {
		ctx := NewUserContext(context.Background(), Actor{ID: 7, Role: objects.RoleTeacher})

		actor, err := ActorFrom(ctx)
		require.NoError(t, err)
		assert.Equal(t, Actor{ID: 7, Role: objects.RoleTeacher}, *actor)
		assert.Equal(t, int64(7), *AuditActorID(ctx))
	})

	t.Run("system acts as admin without audit id", func(t *testing.T) {
		ctx := NewSystemContext(context.Background())

		actor, err := ActorFrom(ctx)
		require.NoError(t, err)
		assert.True(t, actor.IsAdmin())
		assert.Nil(t, AuditActorID(ctx))
	})
}
