package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store/storetest"
)

func TestRecorder_Record(t *testing.T) {
	db := storetest.New(t)
	r := audit.NewRecorder(db, audit.Config{})

	t.Run("user actor with snapshots", func(t *testing.T) {
		ctx := authz.NewUserContext(context.Background(), authz.Actor{ID: 42, Role: objects.RoleTeacher})

		l, err := r.Record(ctx, audit.Entry{
			Action:      "project.review.approved",
			TargetTable: "projects",
			TargetID:    9,
			Before:      map[string]any{"status": "submitted"},
			After:       map[string]any{"status": "active"},
			Scope:       audit.Scope{ClassID: 1, TeamID: 2, ProjectID: 9},
		})
		require.NoError(t, err)
		require.NotNil(t, l.ActorID)
		assert.Equal(t, int64(42), *l.ActorID)
		assert.Equal(t, "submitted", gjson.Get(*l.BeforeJSON, "status").String())
		assert.Equal(t, "active", gjson.Get(*l.AfterJSON, "status").String())
	})

	t.Run("notes are set on the after snapshot", func(t *testing.T) {
		ctx := authz.NewUserContext(context.Background(), authz.Actor{ID: 42, Role: objects.RoleTeacher})

		l, err := r.Record(ctx, audit.Entry{
			Action:      "team.leader.force",
			TargetTable: "teams",
			TargetID:    2,
			After:       map[string]any{"leaderId": 7},
			Notes:       map[string]any{"reason": "leader left"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), gjson.Get(*l.AfterJSON, "leaderId").Int())
		assert.Equal(t, "leader left", gjson.Get(*l.AfterJSON, "reason").String())
	})

	t.Run("system actor and repair annotation", func(t *testing.T) {
		ctx := authz.NewSystemContext(context.Background())

		l, err := authz.RunWithRepair(ctx, "relock", func(ctx context.Context) (*audit.Entry, error) {
			e := audit.Entry{Action: "admin.fix.project", TargetTable: "projects", TargetID: 9, Scope: audit.Scope{ClassID: 1}}
			_, err := r.Record(ctx, e)

			return &e, err
		})
		require.NoError(t, err)
		assert.Equal(t, "admin.fix.project", l.Action)

		page, err := r.Query(ctx, audit.Filter{Action: "admin.fix."})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Nil(t, page.Entries[0].ActorID)
		assert.Nil(t, page.Entries[0].TeamID)
		assert.Equal(t, "relock", gjson.Get(*page.Entries[0].AfterJSON, "_repair.reason").String())
	})
}

func TestRecorder_QueryPaging(t *testing.T) {
	db := storetest.New(t)
	r := audit.NewRecorder(db, audit.Config{DefaultPageSize: 2, MaxPageSize: 3})
	ctx := authz.NewSystemContext(context.Background())

	for range 5 {
		_, err := r.Record(ctx, audit.Entry{Action: "team.create", TargetTable: "teams", Scope: audit.Scope{ClassID: 1}})
		require.NoError(t, err)
	}

	classID := int64(1)

	page, err := r.Query(ctx, audit.Filter{ClassID: &classID})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Greater(t, page.Entries[0].ID, page.Entries[1].ID)
	assert.Equal(t, page.Entries[1].ID, page.NextBeforeID)

	page, err = r.Query(ctx, audit.Filter{ClassID: &classID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3, "limit is capped at the max page size")

	page, err = r.Query(ctx, audit.Filter{ClassID: &classID, BeforeID: page.NextBeforeID, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.Zero(t, page.NextBeforeID)
}
