package biz

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/blob"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store"
)

func TestAssignmentService_Submissions(t *testing.T) {
	h := newHarness(t)
	st := h.students(2)
	leader, member := st[0], st[1]
	class := h.class(st...)
	team := h.team(class, leader, member)
	project := h.activeProject(team, leader)

	deadline := h.clock.Now().Add(24 * time.Hour)

	individual, err := h.assignments.CreateAssignment(h.as(h.teacher), class.ID, CreateAssignmentInput{
		Title:    "Requirements draft",
		StageKey: objects.StageRequirements,
		Type:     objects.AssignmentIndividual,
		Deadline: deadline,
	})
	require.NoError(t, err)

	teamWork, err := h.assignments.CreateAssignment(h.as(h.teacher), class.ID, CreateAssignmentInput{
		Title:    "Requirements document",
		StageKey: objects.StageRequirements,
		Type:     objects.AssignmentTeam,
		Deadline: deadline,
	})
	require.NoError(t, err)

	later, err := h.assignments.CreateAssignment(h.as(h.teacher), class.ID, CreateAssignmentInput{
		Title:    "Design",
		StageKey: objects.StageHighLevelDesign,
		Type:     objects.AssignmentIndividual,
		Deadline: deadline,
	})
	require.NoError(t, err)

	t.Run("students cannot create assignments", func(t *testing.T) {
		_, err := h.assignments.CreateAssignment(h.as(leader), class.ID, CreateAssignmentInput{
			Title:    "Mine",
			StageKey: objects.StageRequirements,
			Type:     objects.AssignmentIndividual,
			Deadline: deadline,
		})
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("unknown stage key", func(t *testing.T) {
		_, err := h.assignments.CreateAssignment(h.as(h.teacher), class.ID, CreateAssignmentInput{
			Title:    "Bad",
			StageKey: "deployment",
			Type:     objects.AssignmentIndividual,
			Deadline: deadline,
		})
		require.ErrorIs(t, err, errs.ErrValidation)
	})

	submit := func(u *store.User, assignment *store.Assignment, files ...blob.Upload) (*SubmissionResult, error) {
		return h.assignments.CreateSubmission(h.as(u), assignment.ID, CreateSubmissionInput{Files: files})
	}

	first, err := submit(member, individual, blob.Upload{Name: "draft.md", Mime: "text/markdown", Data: []byte("# Draft")})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Submission.Version)
	assert.False(t, first.Submission.IsLate)
	assert.Nil(t, first.Submission.TeamID)
	require.Len(t, first.Files, 1)

	second, err := submit(member, individual)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Submission.Version)

	t.Run("versions are per submitter", func(t *testing.T) {
		res, err := submit(leader, individual)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Submission.Version)
	})

	t.Run("late after the deadline", func(t *testing.T) {
		h.clock.Advance(48 * time.Hour)

		res, err := submit(member, individual)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Submission.Version)
		assert.True(t, res.Submission.IsLate)
	})

	t.Run("team submissions come from the leader", func(t *testing.T) {
		_, err := submit(member, teamWork)
		require.ErrorIs(t, err, errs.ErrForbidden)

		res, err := submit(leader, teamWork)
		require.NoError(t, err)
		require.NotNil(t, res.Submission.TeamID)
		assert.Equal(t, team.ID, *res.Submission.TeamID)
		assert.Equal(t, 1, res.Submission.Version)
	})

	t.Run("stage must be open", func(t *testing.T) {
		_, err := submit(member, later)
		require.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("staff do not submit", func(t *testing.T) {
		_, err := submit(h.teacher, individual)
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("list", func(t *testing.T) {
		subs, err := h.assignments.ListSubmissions(h.as(leader), individual.ID, project.ID)
		require.NoError(t, err)
		assert.Len(t, subs, 4)
	})

	t.Run("attachments", func(t *testing.T) {
		f, rc, err := h.assignments.OpenAttachment(h.as(member), first.Files[0].ID)
		require.NoError(t, err)

		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "# Draft", string(data))
		assert.Equal(t, "draft.md", f.OriginalName)

		_, err = h.classes.SetClassStatus(h.as(h.teacher), class.ID, objects.ClassStatusArchived)
		require.NoError(t, err)

		_, _, err = h.assignments.OpenAttachment(h.as(member), first.Files[0].ID)
		require.ErrorIs(t, err, errs.ErrFrozen)

		_, staffRC, err := h.assignments.OpenAttachment(h.as(h.teacher), first.Files[0].ID)
		require.NoError(t, err)
		require.NoError(t, staffRC.Close())

		_, err = submit(member, individual)
		require.ErrorIs(t, err, errs.ErrFrozen)
	})
}

func TestAssignmentService_Grade(t *testing.T) {
	h := newHarness(t)
	st := h.students(1)
	class := h.class(st...)
	team := h.team(class, st[0])
	h.activeProject(team, st[0])

	assignment, err := h.assignments.CreateAssignment(h.as(h.teacher), class.ID, CreateAssignmentInput{
		Title:    "Requirements",
		StageKey: objects.StageRequirements,
		Type:     objects.AssignmentIndividual,
		Deadline: h.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	res, err := h.assignments.CreateSubmission(h.as(st[0]), assignment.ID, CreateSubmissionInput{})
	require.NoError(t, err)

	for _, score := range []string{"-1", "100.5"} {
		_, err := h.assignments.GradeSubmission(h.as(h.teacher), res.Submission.ID, GradeInput{Score: decimal.RequireFromString(score)})
		require.ErrorIs(t, err, errs.ErrValidation, score)
	}

	_, err = h.assignments.GradeSubmission(h.as(st[0]), res.Submission.ID, GradeInput{Score: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = h.assignments.GradeSubmission(h.as(h.teacher), res.Submission.ID, GradeInput{Score: decimal.NewFromInt(70)})
	require.NoError(t, err)

	grade, err := h.assignments.GradeSubmission(h.as(h.teacher), res.Submission.ID, GradeInput{Score: decimal.RequireFromString("88.5")})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("88.5").Equal(grade.Score))

	graded := h.sink.ofType(notify.TypeSubmissionGraded)
	require.Len(t, graded, 2)
	assert.Equal(t, st[0].ID, graded[1].UserID)
	assert.Equal(t, "88.5", graded[1].Payload["score"])
}
