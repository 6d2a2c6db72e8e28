package biz

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/blob"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/pkg/xvalidator"
	"github.com/looplj/classhub/internal/store"
)

var maxScore = decimal.NewFromInt(100)

type CreateAssignmentInput struct {
	Title       string                 `json:"title" validate:"required,max=256"`
	Description *string                `json:"description"`
	StageKey    objects.StageKey       `json:"stageKey" validate:"required,stage_key"`
	Type        objects.AssignmentType `json:"type" validate:"required,oneof=individual team"`
	Deadline    time.Time              `json:"deadline" validate:"required"`
}

type CreateSubmissionInput struct {
	Note  *string       `json:"note" validate:"omitempty,max=2000"`
	Files []blob.Upload `json:"-" validate:"max=20"`
}

type SubmissionResult struct {
	Submission *store.Submission `json:"submission"`
	Files      []store.File      `json:"files"`
}

type GradeInput struct {
	Score    decimal.Decimal `json:"score"`
	Feedback *string         `json:"feedback" validate:"omitempty,max=4000"`
}

type AssignmentServiceParams struct {
	fx.In

	AbstractService *AbstractService
	Blob            *blob.Store
}

type AssignmentService struct {
	*AbstractService

	blob *blob.Store
}

func NewAssignmentService(params AssignmentServiceParams) *AssignmentService {
	return &AssignmentService{
		AbstractService: params.AbstractService,
		blob:            params.Blob,
	}
}

func (s *AssignmentService) CreateAssignment(ctx context.Context, classID int64, input CreateAssignmentInput) (*store.Assignment, error) {
	return govern(ctx, s.AbstractService, "assignment.create", func(ctx context.Context, u *unit) (*store.Assignment, error) {
		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		class, err := s.loadClass(ctx, classID)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceAssignments,
			Action:   authz.ActionCreate,
			ClassID:  class.ID,
			Attrs:    scopeAttrs(class, nil, nil),
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		by := actorRef(ctx)
		if by == nil {
			return nil, errs.Validation("assignments are created by a user")
		}

		a := &store.Assignment{
			ClassID:     class.ID,
			Title:       input.Title,
			Description: input.Description,
			StageKey:    input.StageKey,
			Type:        input.Type,
			Deadline:    input.Deadline.UTC(),
			CreatedBy:   *by,
		}
		if err := s.db.CreateAssignment(ctx, a); err != nil {
			return nil, err
		}

		return a, s.record(ctx, audit.Entry{
			Action:      "assignment.create",
			TargetTable: "assignments",
			TargetID:    a.ID,
			After:       a,
			Scope:       audit.Scope{ClassID: class.ID},
		})
	})
}

// CreateSubmission stores a new version of the acting student's (or, for team
// assignments, the team's) submission. Uploaded blobs are removed again when
// the submission does not commit.
func (s *AssignmentService) CreateSubmission(ctx context.Context, assignmentID int64, input CreateSubmissionInput) (*SubmissionResult, error) {
	var stored []*blob.Handle

	result, err := govern(ctx, s.AbstractService, "submission.create", func(ctx context.Context, u *unit) (*SubmissionResult, error) {
		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		if u.actor.Role != objects.RoleStudent {
			return nil, errs.Forbidden("only students submit")
		}

		assignment, err := s.db.GetAssignment(ctx, assignmentID)
		if err != nil {
			return nil, err
		}

		membership, ok, err := s.db.FindActiveMembership(ctx, assignment.ClassID, u.actor.ID)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, errs.Conflict("user %d has no team in class %d", u.actor.ID, assignment.ClassID)
		}

		peek, ok, err := s.db.FindProjectByTeam(ctx, membership.TeamID)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, errs.Conflict("team %d has no project", membership.TeamID)
		}

		class, team, project, err := s.loadProject(ctx, peek.ID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["assignmentType"] = string(assignment.Type)
		attrs["late"] = s.now().After(assignment.Deadline)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceSubmissions,
			Action:    authz.ActionCreate,
			ClassID:   class.ID,
			TeamID:    team.ID,
			ProjectID: project.ID,
			Attrs:     attrs,
		}); err != nil {
			return nil, err
		}

		if _, ok, err := s.db.FindTeamMember(ctx, team.ID, u.actor.ID); err != nil {
			return nil, err
		} else if !ok {
			return nil, errs.Forbidden("user %d left team %d", u.actor.ID, team.ID)
		}

		if assignment.Type == objects.AssignmentTeam && team.LeaderID != u.actor.ID {
			return nil, errs.Forbidden("team submissions are made by the leader")
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if project.Status != objects.ProjectStatusActive {
			return nil, errs.Conflict("project %d is %s", project.ID, project.Status)
		}

		stage, err := s.db.GetStage(ctx, project.ID, assignment.StageKey)
		if err != nil {
			return nil, err
		}

		if stage.Status != objects.StageStatusOpen {
			return nil, errs.Conflict("stage %s is %s", stage.Key, stage.Status)
		}

		identity := store.SubmissionIdentity{
			AssignmentID: assignment.ID,
			StageID:      stage.ID,
			ProjectID:    project.ID,
			SubmitterID:  u.actor.ID,
		}
		if assignment.Type == objects.AssignmentTeam {
			identity.TeamID = &team.ID
		}

		version, err := s.db.MaxSubmissionVersion(ctx, identity)
		if err != nil {
			return nil, err
		}

		sub := &store.Submission{
			AssignmentID: assignment.ID,
			StageID:      stage.ID,
			ClassID:      class.ID,
			ProjectID:    project.ID,
			TeamID:       identity.TeamID,
			SubmitterID:  u.actor.ID,
			Version:      version + 1,
			IsLate:       s.now().After(assignment.Deadline),
			Note:         input.Note,
		}
		if err := s.db.CreateSubmission(ctx, sub); err != nil {
			return nil, err
		}

		files := make([]store.File, 0, len(input.Files))

		for _, up := range input.Files {
			h, err := s.blob.Put(ctx, up)
			if err != nil {
				return nil, err
			}

			stored = append(stored, h)

			f := store.File{
				ClassID:      class.ID,
				UploadedBy:   u.actor.ID,
				StoragePath:  h.Path,
				OriginalName: h.OriginalName,
				Mime:         h.Mime,
				Size:         h.Size,
				SHA256:       h.SHA256,
			}
			if err := s.db.CreateFile(ctx, &f); err != nil {
				return nil, err
			}

			if err := s.db.AttachSubmissionFile(ctx, sub.ID, f.ID); err != nil {
				return nil, err
			}

			files = append(files, f)
		}

		result := &SubmissionResult{Submission: sub, Files: files}

		return result, s.record(ctx, audit.Entry{
			Action:      "submission.create",
			TargetTable: "submissions",
			TargetID:    sub.ID,
			After:       result,
			Scope:       projectScope(project),
		})
	})
	if err != nil {
		for _, h := range stored {
			if rmErr := s.blob.Remove(context.WithoutCancel(ctx), h.Path); rmErr != nil {
				log.Warn(ctx, "failed to remove orphaned upload", log.String("path", h.Path), log.Cause(rmErr))
			}
		}

		return nil, err
	}

	return result, nil
}

// OpenAttachment opens a stored submission file. Students of an archived class
// may only download when the class allows it; staff always may.
func (s *AssignmentService) OpenAttachment(ctx context.Context, fileID int64) (*store.File, io.ReadCloser, error) {
	f, err := read(ctx, s.AbstractService, "file.open", func(ctx context.Context, actor *authz.Actor) (*store.File, error) {
		f, err := s.db.GetFile(ctx, fileID)
		if err != nil {
			return nil, err
		}

		class, err := s.db.GetClass(ctx, f.ClassID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, actor, authz.Request{
			Resource: authz.ResourceFiles,
			Action:   authz.ActionRead,
			ClassID:  class.ID,
			Attrs:    scopeAttrs(class, nil, nil),
		}); err != nil {
			return nil, err
		}

		staff, err := s.isClassStaff(ctx, actor, class.ID)
		if err != nil {
			return nil, err
		}

		if staff {
			return f, nil
		}

		if err := s.requireEnrolled(ctx, class.ID, actor.ID); err != nil {
			return nil, err
		}

		if class.Archived() && !class.AllowStudentDownloadAfterArchived {
			return nil, errs.Frozen("class %d is archived and downloads are disabled", class.ID)
		}

		return f, nil
	})
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blob.Open(ctx, f.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	return f, rc, nil
}

// GradeSubmission sets the single grade of a submission, replacing any earlier one.
func (s *AssignmentService) GradeSubmission(ctx context.Context, submissionID int64, input GradeInput) (*store.Grade, error) {
	return govern(ctx, s.AbstractService, "grade.upsert", func(ctx context.Context, u *unit) (*store.Grade, error) {
		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		if input.Score.IsNegative() || input.Score.GreaterThan(maxScore) {
			return nil, errs.ValidationFields(errs.FieldError{Field: "score", Error: "must be between 0 and 100"})
		}

		sub, err := s.db.GetSubmission(ctx, submissionID)
		if err != nil {
			return nil, err
		}

		class, _, project, err := s.loadProject(ctx, sub.ProjectID)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceGrades,
			Action:    authz.ActionCreate,
			ClassID:   class.ID,
			TeamID:    project.TeamID,
			ProjectID: project.ID,
			Attrs:     scopeAttrs(class, nil, project),
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		by := actorRef(ctx)
		if by == nil {
			return nil, errs.Validation("grades are given by a user")
		}

		before, _, err := s.db.FindGrade(ctx, sub.ID)
		if err != nil {
			return nil, err
		}

		g := &store.Grade{
			SubmissionID: sub.ID,
			ClassID:      class.ID,
			GraderID:     *by,
			Score:        input.Score,
			Feedback:     input.Feedback,
		}
		if err := s.db.UpsertGrade(ctx, g); err != nil {
			return nil, err
		}

		u.notify(notify.Message{
			UserID:  sub.SubmitterID,
			Type:    notify.TypeSubmissionGraded,
			Title:   "Submission graded",
			Payload: map[string]any{"submissionId": sub.ID, "score": g.Score.String()},
		})

		return g, s.record(ctx, audit.Entry{
			Action:      "grade.upsert",
			TargetTable: "grades",
			TargetID:    sub.ID,
			Before:      before,
			After:       g,
			Scope:       projectScope(project),
		})
	})
}

// ListSubmissions returns every version for a project and assignment.
func (s *AssignmentService) ListSubmissions(ctx context.Context, assignmentID, projectID int64) ([]store.Submission, error) {
	return read(ctx, s.AbstractService, "submission.list", func(ctx context.Context, actor *authz.Actor) ([]store.Submission, error) {
		project, err := s.db.GetProject(ctx, projectID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if err := s.requireProjectReader(ctx, actor, project, authz.ResourceSubmissions); err != nil {
			return nil, err
		}

		return s.db.ListSubmissions(ctx, assignmentID, project.ID)
	})
}
