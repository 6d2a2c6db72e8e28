package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store"
	"github.com/looplj/classhub/internal/store/storetest"
)

type fixture struct {
	db      *store.DB
	teacher *store.User
	student *store.User
	class   *store.Class
	team    *store.Team
}

func setup(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	s := storetest.New(t)

	teacher := &store.User{Username: "teacher", Role: objects.RoleTeacher}
	require.NoError(t, s.CreateUser(ctx, teacher))

	student := &store.User{Username: "student", Role: objects.RoleStudent}
	require.NoError(t, s.CreateUser(ctx, student))

	class := &store.Class{Name: "Capstone", ConfigJSON: "{}", CreatedBy: teacher.ID}
	require.NoError(t, s.CreateClass(ctx, class))

	team := &store.Team{ClassID: class.ID, Name: "T", LeaderID: student.ID}
	require.NoError(t, s.CreateTeam(ctx, team))

	return &fixture{db: s, teacher: teacher, student: student, class: class, team: team}
}

func TestDB_RunInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback on error", func(t *testing.T) {
		f := setup(t)
		boom := errors.New("boom")

		err := f.db.RunInTx(ctx, func(ctx context.Context) error {
			require.True(t, store.InTx(ctx))
			require.NoError(t, f.db.SetTeamLeader(ctx, f.team.ID, f.teacher.ID))

			return boom
		})
		require.ErrorIs(t, err, boom)

		team, err := f.db.GetTeam(ctx, f.team.ID, store.LockNone)
		require.NoError(t, err)
		assert.Equal(t, f.student.ID, team.LeaderID)
	})

	t.Run("nested joins outer", func(t *testing.T) {
		f := setup(t)

		err := f.db.RunInTx(ctx, func(ctx context.Context) error {
			return f.db.RunInTx(ctx, func(ctx context.Context) error {
				return f.db.SetTeamLeader(ctx, f.team.ID, f.teacher.ID)
			})
		})
		require.NoError(t, err)

		team, err := f.db.GetTeam(ctx, f.team.ID, store.LockNone)
		require.NoError(t, err)
		assert.Equal(t, f.teacher.ID, team.LeaderID)
	})
}

func TestDB_NotFound(t *testing.T) {
	f := setup(t)

	_, err := f.db.GetProject(context.Background(), 404, store.LockNone)
	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, err.Error(), "project 404 not found")
}

func TestDB_SingleActiveMembership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	require.NoError(t, f.db.AddMember(ctx, &store.TeamMember{TeamID: f.team.ID, ClassID: f.class.ID, StudentID: f.student.ID}))

	other := &store.Team{ClassID: f.class.ID, Name: "Other", LeaderID: f.teacher.ID}
	require.NoError(t, f.db.CreateTeam(ctx, other))

	err := f.db.AddMember(ctx, &store.TeamMember{TeamID: other.ID, ClassID: f.class.ID, StudentID: f.student.ID})
	require.ErrorIs(t, err, errs.ErrConflict)

	m, ok, err := f.db.FindActiveMembership(ctx, f.class.ID, f.student.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.db.DeactivateMember(ctx, m.ID))

	require.NoError(t, f.db.AddMember(ctx, &store.TeamMember{TeamID: other.ID, ClassID: f.class.ID, StudentID: f.student.ID}))

	err = f.db.DeactivateMember(ctx, m.ID)
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestDB_JoinRequests(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	req := &store.TeamJoinRequest{TeamID: f.team.ID, ClassID: f.class.ID, StudentID: f.teacher.ID}
	require.NoError(t, f.db.CreateJoinRequest(ctx, req))

	dup := &store.TeamJoinRequest{TeamID: f.team.ID, ClassID: f.class.ID, StudentID: f.teacher.ID}
	require.ErrorIs(t, f.db.CreateJoinRequest(ctx, dup), errs.ErrConflict)

	require.NoError(t, f.db.ResolveJoinRequest(ctx, req.ID, objects.JoinRequestCancelled, &f.teacher.ID))
	require.ErrorIs(t, f.db.ResolveJoinRequest(ctx, req.ID, objects.JoinRequestApproved, &f.student.ID), errs.ErrConflict)

	// A new pending request is allowed once the previous one is terminal.
	require.NoError(t, f.db.CreateJoinRequest(ctx, dup))
}

func TestDB_LockTeam(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	changed, err := f.db.LockTeam(ctx, f.team.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.db.LockTeam(ctx, f.team.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	team, err := f.db.GetTeam(ctx, f.team.ID, store.LockNone)
	require.NoError(t, err)
	assert.Equal(t, objects.TeamStatusLocked, team.Status)
	assert.True(t, team.IsLocked)
	assert.NotNil(t, team.LockedAt)
}

func TestDB_ProjectTransitions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	p := &store.Project{TeamID: f.team.ID, ClassID: f.class.ID, Name: "P", SourceType: objects.ProjectSourceCustom}
	require.NoError(t, f.db.CreateProject(ctx, p))

	second := &store.Project{TeamID: f.team.ID, ClassID: f.class.ID, Name: "P2", SourceType: objects.ProjectSourceCustom}
	require.ErrorIs(t, f.db.CreateProject(ctx, second), errs.ErrConflict)

	editable := []objects.ProjectStatus{objects.ProjectStatusDraft, objects.ProjectStatusRejected}
	require.NoError(t, f.db.TransitionProject(ctx, p.ID, editable, objects.ProjectStatusSubmitted, nil, nil))

	err := f.db.TransitionProject(ctx, p.ID, editable, objects.ProjectStatusSubmitted, nil, nil)
	require.ErrorIs(t, err, errs.ErrConflict)

	p.Name = "renamed"
	require.ErrorIs(t, f.db.UpdateProjectContent(ctx, p), errs.ErrConflict)

	feedback := "fine"
	require.NoError(t, f.db.TransitionProject(ctx, p.ID,
		[]objects.ProjectStatus{objects.ProjectStatusSubmitted}, objects.ProjectStatusActive, &f.teacher.ID, &feedback))

	got, err := f.db.GetProject(ctx, p.ID, store.LockNone)
	require.NoError(t, err)
	assert.Equal(t, objects.ProjectStatusActive, got.Status)
	assert.NotNil(t, got.SubmittedAt)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, f.teacher.ID, *got.ReviewedBy)
}

func TestDB_Stages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	p := &store.Project{TeamID: f.team.ID, ClassID: f.class.ID, Name: "P", SourceType: objects.ProjectSourceCustom}
	require.NoError(t, f.db.CreateProject(ctx, p))

	n, err := f.db.MaterializeStages(ctx, p.ID, objects.InitialStageVector(), &f.teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.db.MaterializeStages(ctx, p.ID, objects.InitialStageVector(), &f.teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stages, err := f.db.ListStages(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, stages, 5)

	if diff := cmp.Diff(objects.InitialStageVector(), store.StageVector(stages)); diff != "" {
		t.Errorf("initial vector mismatch (-want +got):\n%s", diff)
	}

	open, ok, err := f.db.FindOpenStage(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, objects.StageRequirements, open.Key)

	err = f.db.SetStageStatus(ctx, stages[1].ID, objects.StageStatusOpen, objects.StageStatusPassed, &f.teacher.ID)
	require.ErrorIs(t, err, errs.ErrConflict)

	want, err := objects.RollbackVector(objects.StageDetailedDesign)
	require.NoError(t, err)

	rows, err := f.db.ApplyStageVector(ctx, p.ID, want, &f.teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rows)

	stages, err = f.db.ListStages(ctx, p.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(want, store.StageVector(stages)); diff != "" {
		t.Errorf("rollback vector mismatch (-want +got):\n%s", diff)
	}
}

func TestDB_AuditLogsAppendOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	entry := &store.AuditLog{ActorID: &f.teacher.ID, Action: "class.create", TargetTable: "classes", TargetID: &f.class.ID, ClassID: &f.class.ID}
	require.NoError(t, f.db.InsertAuditLog(ctx, entry))

	_, err := f.db.SQL().ExecContext(ctx, "UPDATE audit_logs SET action = 'x' WHERE id = ?", entry.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = f.db.SQL().ExecContext(ctx, "DELETE FROM audit_logs WHERE id = ?", entry.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	n, err := f.db.CountAuditLogs(ctx, store.AuditFilter{ClassID: &f.class.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDB_QueryAuditLogs(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	for _, action := range []string{"team.create", "team.member.leave", "project.submit"} {
		require.NoError(t, f.db.InsertAuditLog(ctx, &store.AuditLog{
			ActorID: &f.student.ID, Action: action, TargetTable: "teams", ClassID: &f.class.ID, TeamID: &f.team.ID,
		}))
	}

	logs, err := f.db.QueryAuditLogs(ctx, store.AuditFilter{TeamID: &f.team.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "project.submit", logs[0].Action)
	assert.Greater(t, logs[0].ID, logs[1].ID)

	logs, err = f.db.QueryAuditLogs(ctx, store.AuditFilter{Action: "team.", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = f.db.QueryAuditLogs(ctx, store.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	older, err := f.db.QueryAuditLogs(ctx, store.AuditFilter{BeforeID: logs[0].ID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, older, 2)
}

func TestDB_Adoptions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	w := &store.PeerReviewWindow{ClassID: f.class.ID, StageKey: objects.StageRequirements, CreatedBy: f.teacher.ID}
	require.NoError(t, f.db.CreateWindow(ctx, w))

	first := &store.PeerReviewAdoption{WindowID: w.ID, TeamID: f.team.ID, Adopted: true, DecidedBy: f.teacher.ID}
	require.NoError(t, f.db.UpsertAdoption(ctx, first))

	second := &store.PeerReviewAdoption{
		WindowID:          w.ID,
		TeamID:            f.team.ID,
		Adopted:           false,
		ForcedCoefficient: decimal.NewNullDecimal(decimal.RequireFromString("0.8")),
		DecidedBy:         f.teacher.ID,
	}
	require.NoError(t, f.db.UpsertAdoption(ctx, second))

	got, ok, err := f.db.FindAdoption(ctx, w.ID, f.team.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
	assert.False(t, got.Adopted)
	require.True(t, got.ForcedCoefficient.Valid)
	assert.True(t, got.ForcedCoefficient.Decimal.Equal(decimal.RequireFromString("0.8")))
}

func TestDB_SubmissionVersions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	p := &store.Project{TeamID: f.team.ID, ClassID: f.class.ID, Name: "P", SourceType: objects.ProjectSourceCustom}
	require.NoError(t, f.db.CreateProject(ctx, p))
	_, err := f.db.MaterializeStages(ctx, p.ID, objects.InitialStageVector(), nil)
	require.NoError(t, err)

	stage, err := f.db.GetStage(ctx, p.ID, objects.StageRequirements)
	require.NoError(t, err)

	a := &store.Assignment{
		ClassID: f.class.ID, Title: "SRS", StageKey: objects.StageRequirements,
		Type: objects.AssignmentIndividual, Deadline: stage.CreatedAt, CreatedBy: f.teacher.ID,
	}
	require.NoError(t, f.db.CreateAssignment(ctx, a))

	identity := store.SubmissionIdentity{AssignmentID: a.ID, StageID: stage.ID, ProjectID: p.ID, SubmitterID: f.student.ID}

	v, err := f.db.MaxSubmissionVersion(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	sub := &store.Submission{
		AssignmentID: a.ID, StageID: stage.ID, ClassID: f.class.ID, ProjectID: p.ID,
		SubmitterID: f.student.ID, Version: 1,
	}
	require.NoError(t, f.db.CreateSubmission(ctx, sub))

	dup := *sub
	require.ErrorIs(t, f.db.CreateSubmission(ctx, &dup), errs.ErrConflict)

	v, err = f.db.MaxSubmissionVersion(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
