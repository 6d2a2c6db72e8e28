package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

func TestUserService_CreateUser(t *testing.T) {
	h := newHarness(t)

	user, err := h.users.CreateUser(h.as(h.adminUser), CreateUserInput{Username: "ada", DisplayName: "Ada", Role: objects.RoleStudent})
	require.NoError(t, err)
	require.NotZero(t, user.ID)

	_, err = h.users.CreateUser(h.as(h.adminUser), CreateUserInput{Username: "ada", Role: objects.RoleStudent})
	require.ErrorIs(t, err, errs.ErrConflict)

	_, err = h.users.CreateUser(h.as(h.adminUser), CreateUserInput{Username: "bob", Role: "janitor"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.users.CreateUser(h.as(h.teacher), CreateUserInput{Username: "eve", Role: objects.RoleStudent})
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.users.CreateUser(context.Background(), CreateUserInput{Username: "anon", Role: objects.RoleStudent})
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestUserService_SetUserRole(t *testing.T) {
	h := newHarness(t)
	st := h.students(1)

	actor, err := h.users.Resolve(context.Background(), st[0].ID)
	require.NoError(t, err)
	require.Equal(t, objects.RoleStudent, actor.Role)

	_, err = h.users.SetUserRole(h.as(h.teacher), st[0].ID, objects.RoleTeacher)
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.users.SetUserRole(h.as(h.adminUser), st[0].ID, objects.RoleStudent)
	require.ErrorIs(t, err, errs.ErrConflict)

	updated, err := h.users.SetUserRole(h.as(h.adminUser), st[0].ID, objects.RoleTeacher)
	require.NoError(t, err)
	require.Equal(t, objects.RoleTeacher, updated.Role)

	actor, err = h.users.Resolve(context.Background(), st[0].ID)
	require.NoError(t, err)
	assert.Equal(t, objects.RoleTeacher, actor.Role)

	_, err = h.users.Resolve(context.Background(), 404)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserService_WatchEvictsStaleUsers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	st := h.students(1)

	require.NoError(t, h.users.Start(ctx))
	t.Cleanup(func() {
		_ = h.users.Stop(ctx)
	})

	_, err := h.users.Resolve(ctx, st[0].ID)
	require.NoError(t, err)

	// Another process changed the role and broadcast the id.
	require.NoError(t, h.db.UpdateUserRole(ctx, st[0].ID, objects.RoleTeacher))
	require.NoError(t, h.users.invalidations.Notify(ctx, st[0].ID))

	require.Eventually(t, func() bool {
		actor, err := h.users.Resolve(ctx, st[0].ID)
		return err == nil && actor.Role == objects.RoleTeacher
	}, time.Second, 10*time.Millisecond)
}
