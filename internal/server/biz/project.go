package biz

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/pkg/xvalidator"
	"github.com/looplj/classhub/internal/store"
)

type ProjectInput struct {
	Name       string                `json:"name" validate:"required,max=200"`
	Background *string               `json:"background" validate:"omitempty,max=10000"`
	TechStack  *string               `json:"techStack" validate:"omitempty,max=2000"`
	SourceType objects.ProjectSource `json:"sourceType" validate:"required,oneof=case_library custom"`
	CaseID     *int64                `json:"caseId" validate:"required_if=SourceType case_library"`
}

// ReviewResult is the outcome of a project review. Stages is set when the
// project became active.
type ReviewResult struct {
	Project *store.Project       `json:"project"`
	Team    *store.Team          `json:"team"`
	Stages  []store.ProjectStage `json:"stages,omitempty"`
}

type ProjectServiceParams struct {
	fx.In

	AbstractService *AbstractService
}

type ProjectService struct {
	*AbstractService
}

func NewProjectService(params ProjectServiceParams) *ProjectService {
	return &ProjectService{AbstractService: params.AbstractService}
}

func projectScope(p *store.Project) audit.Scope {
	return audit.Scope{ClassID: p.ClassID, TeamID: p.TeamID, ProjectID: p.ID}
}

// requireLeaderOrStaff passes for the team leader, admins, and teachers of the class.
func (s *ProjectService) requireLeaderOrStaff(ctx context.Context, actor *authz.Actor, team *store.Team) error {
	if actor.Role == objects.RoleStudent {
		if team.LeaderID != actor.ID {
			return errs.Forbidden("leader required")
		}

		return nil
	}

	return s.requireClassStaff(ctx, actor, team.ClassID)
}

// CreateProject creates a draft project for a team that has none. The class is
// taken from the team.
func (s *ProjectService) CreateProject(ctx context.Context, teamID int64, input ProjectInput) (*store.Project, error) {
	return govern(ctx, s.AbstractService, "project.create", func(ctx context.Context, u *unit) (*store.Project, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, nil)
		attrs["isLeader"] = team.LeaderID == u.actor.ID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceProjects,
			Action:   authz.ActionCreate,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireLeaderOrStaff(ctx, u.actor, team); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		project := &store.Project{
			TeamID:     team.ID,
			ClassID:    team.ClassID,
			Name:       input.Name,
			Background: input.Background,
			TechStack:  input.TechStack,
			SourceType: input.SourceType,
			CaseID:     input.CaseID,
		}
		if err := s.db.CreateProject(ctx, project); err != nil {
			return nil, err
		}

		return project, s.record(ctx, audit.Entry{
			Action:      "project.create",
			TargetTable: "projects",
			TargetID:    project.ID,
			After:       project,
			Scope:       projectScope(project),
		})
	})
}

// UpdateProject edits project content while it is draft or rejected.
func (s *ProjectService) UpdateProject(ctx context.Context, projectID int64, input ProjectInput) (*store.Project, error) {
	return govern(ctx, s.AbstractService, "project.update", func(ctx context.Context, u *unit) (*store.Project, error) {
		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["isLeader"] = team.LeaderID == u.actor.ID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceProjects,
			Action:    authz.ActionUpdate,
			ClassID:   class.ID,
			TeamID:    team.ID,
			ProjectID: project.ID,
			Attrs:     attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireLeaderOrStaff(ctx, u.actor, team); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if !project.Status.Editable() {
			return nil, errs.Conflict("project %d is %s and can no longer be edited", project.ID, project.Status)
		}

		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		next := *project
		next.Name = input.Name
		next.Background = input.Background
		next.TechStack = input.TechStack
		next.SourceType = input.SourceType
		next.CaseID = input.CaseID

		if err := s.db.UpdateProjectContent(ctx, &next); err != nil {
			return nil, err
		}

		after, err := s.db.GetProject(ctx, project.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		return after, s.record(ctx, audit.Entry{
			Action:      "project.update",
			TargetTable: "projects",
			TargetID:    project.ID,
			Before:      project,
			After:       after,
			Scope:       projectScope(project),
		})
	})
}

// SubmitProject moves a draft or rejected project to submitted.
func (s *ProjectService) SubmitProject(ctx context.Context, projectID int64) (*store.Project, error) {
	return govern(ctx, s.AbstractService, "project.submit", func(ctx context.Context, u *unit) (*store.Project, error) {
		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["isLeader"] = team.LeaderID == u.actor.ID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceProjects,
			Action:    authz.ActionSubmit,
			ClassID:   class.ID,
			TeamID:    team.ID,
			ProjectID: project.ID,
			Attrs:     attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireLeaderOrStaff(ctx, u.actor, team); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if !project.Status.Editable() {
			return nil, errs.InvalidTransition(string(project.Status), string(objects.ProjectStatusSubmitted))
		}

		if err := s.db.TransitionProject(ctx, project.ID,
			[]objects.ProjectStatus{objects.ProjectStatusDraft, objects.ProjectStatusRejected},
			objects.ProjectStatusSubmitted, nil, nil,
		); err != nil {
			return nil, err
		}

		after, err := s.db.GetProject(ctx, project.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if err := s.notifyMembers(ctx, u, team, u.actor.ID, notify.Message{
			Type:    notify.TypeProjectSubmitted,
			Title:   "Project submitted for review",
			Body:    fmt.Sprintf("%s was submitted for review", project.Name),
			Payload: map[string]any{"projectId": project.ID},
		}); err != nil {
			return nil, err
		}

		return after, s.record(ctx, audit.Entry{
			Action:      "project.submit",
			TargetTable: "projects",
			TargetID:    project.ID,
			Before:      project,
			After:       after,
			Scope:       projectScope(project),
		})
	})
}

// ReviewProject decides a submitted project. Approval activates it, locks the
// team and materializes the five stages when none exist, in one transaction.
func (s *ProjectService) ReviewProject(ctx context.Context, projectID int64, decision objects.ReviewDecision, feedback *string) (*ReviewResult, error) {
	return govern(ctx, s.AbstractService, "project.review", func(ctx context.Context, u *unit) (*ReviewResult, error) {
		if !decision.Valid() {
			return nil, errs.Validation("unknown decision %q", decision)
		}

		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["decision"] = string(decision)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceProjects,
			Action:    authz.ActionReview,
			ClassID:   class.ID,
			TeamID:    team.ID,
			ProjectID: project.ID,
			Attrs:     attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		to := objects.ProjectStatusRejected
		if decision == objects.DecisionApproved {
			to = objects.ProjectStatusActive
		}

		if project.Status != objects.ProjectStatusSubmitted {
			return nil, errs.InvalidTransition(string(project.Status), string(to))
		}

		reviewer := actorRef(ctx)
		if reviewer == nil {
			return nil, errs.Validation("projects are reviewed by a user")
		}

		if err := s.db.TransitionProject(ctx, project.ID,
			[]objects.ProjectStatus{objects.ProjectStatusSubmitted}, to, reviewer, feedback,
		); err != nil {
			return nil, err
		}

		result := &ReviewResult{}

		if to == objects.ProjectStatusActive {
			stages, err := s.activate(ctx, team, project)
			if err != nil {
				return nil, err
			}

			result.Stages = stages
		}

		if result.Project, err = s.db.GetProject(ctx, project.ID, store.LockNone); err != nil {
			return nil, err
		}

		if result.Team, err = s.db.GetTeam(ctx, team.ID, store.LockNone); err != nil {
			return nil, err
		}

		if err := s.notifyMembers(ctx, u, team, 0, notify.Message{
			Type:    notify.TypeProjectReviewed,
			Title:   "Project " + string(decision),
			Body:    fmt.Sprintf("%s was %s", project.Name, decision),
			Payload: map[string]any{"projectId": project.ID, "status": string(to)},
		}); err != nil {
			return nil, err
		}

		return result, s.record(ctx, audit.Entry{
			Action:      "project.review." + string(decision),
			TargetTable: "projects",
			TargetID:    project.ID,
			Before:      project,
			After:       result,
			Scope:       projectScope(project),
		})
	})
}

// activate applies the side effects of an approved project: the team is
// locked and the stage rows exist. Missing rows are added as locked when some
// already exist, so a repair never opens a second stage.
func (a *AbstractService) activate(ctx context.Context, team *store.Team, project *store.Project) ([]store.ProjectStage, error) {
	if _, err := a.db.LockTeam(ctx, team.ID); err != nil {
		return nil, err
	}

	stages, err := a.db.ListStages(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case len(stages) == 0:
		if _, err := a.db.MaterializeStages(ctx, project.ID, objects.InitialStageVector(), actorRef(ctx)); err != nil {
			return nil, err
		}
	case len(stages) < objects.StageCount:
		var locked objects.StageVector
		for i := range locked {
			locked[i] = objects.StageStatusLocked
		}

		if _, err := a.db.MaterializeStages(ctx, project.ID, locked, actorRef(ctx)); err != nil {
			return nil, err
		}
	}

	return a.db.ListStages(ctx, project.ID)
}

// StageChange is the stage vector of a project before and after a stage transition.
type StageChange struct {
	Before objects.StageVector  `json:"before"`
	After  objects.StageVector  `json:"after"`
	Stages []store.ProjectStage `json:"stages"`
}

// SetStageStatus changes one stage. A student leader may only pass the open
// stage; class staff may set any status. Passing a stage opens the next one
// when it is still locked.
func (s *ProjectService) SetStageStatus(ctx context.Context, projectID int64, key objects.StageKey, status objects.StageStatus) (*StageChange, error) {
	return govern(ctx, s.AbstractService, "stage.update", func(ctx context.Context, u *unit) (*StageChange, error) {
		if _, err := objects.ParseStageKey(string(key)); err != nil {
			return nil, errs.Validation("unknown stage key %q", key)
		}

		if !status.Valid() {
			return nil, errs.Validation("unknown stage status %q", status)
		}

		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		stage, err := s.db.GetStage(ctx, project.ID, key)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["isLeader"] = team.LeaderID == u.actor.ID
		attrs["stageKey"] = string(key)
		attrs["stageStatus"] = string(stage.Status)
		attrs["targetStatus"] = string(status)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceStages,
			Action:    authz.ActionUpdate,
			ClassID:   class.ID,
			TeamID:    team.ID,
			ProjectID: project.ID,
			Attrs:     attrs,
		}); err != nil {
			return nil, err
		}

		if u.actor.Role == objects.RoleStudent {
			if team.LeaderID != u.actor.ID {
				return nil, errs.Forbidden("leader required")
			}

			if status != objects.StageStatusPassed {
				return nil, errs.Forbidden("students may only mark the open stage passed")
			}
		} else if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if project.Status != objects.ProjectStatusActive {
			return nil, errs.Conflict("project %d is not active", project.ID)
		}

		if stage.Status == status {
			return nil, errs.InvalidTransition(string(stage.Status), string(status))
		}

		from := objects.StageStatus("")
		if u.actor.Role == objects.RoleStudent {
			if stage.Status != objects.StageStatusOpen {
				return nil, errs.InvalidTransition(string(stage.Status), string(status))
			}

			from = objects.StageStatusOpen
		}

		before, err := s.db.ListStages(ctx, project.ID)
		if err != nil {
			return nil, err
		}

		by := actorRef(ctx)

		if err := s.db.SetStageStatus(ctx, stage.ID, from, status, by); err != nil {
			return nil, err
		}

		if status == objects.StageStatusPassed {
			if err := s.advance(ctx, project.ID, stage.Key, by); err != nil {
				return nil, err
			}
		}

		after, err := s.db.ListStages(ctx, project.ID)
		if err != nil {
			return nil, err
		}

		change := &StageChange{
			Before: store.StageVector(before),
			After:  store.StageVector(after),
			Stages: after,
		}

		if err := s.notifyMembers(ctx, u, team, u.actor.ID, notify.Message{
			Type:    notify.TypeStageChanged,
			Title:   "Stage " + string(key) + " is now " + string(status),
			Payload: map[string]any{"projectId": project.ID, "stage": string(key), "status": string(status)},
		}); err != nil {
			return nil, err
		}

		return change, s.record(ctx, audit.Entry{
			Action:      "stage.update",
			TargetTable: "project_stages",
			TargetID:    stage.ID,
			Before:      change.Before,
			After:       change.After,
			Scope:       projectScope(project),
		})
	})
}

// advance opens the stage after key when it is locked. Passing the last stage opens nothing.
func (s *ProjectService) advance(ctx context.Context, projectID int64, key objects.StageKey, by *int64) error {
	next, ok := key.Next()
	if !ok {
		return nil
	}

	stage, err := s.db.GetStage(ctx, projectID, next)
	if err != nil {
		return err
	}

	if stage.Status != objects.StageStatusLocked {
		return nil
	}

	return s.db.SetStageStatus(ctx, stage.ID, objects.StageStatusLocked, objects.StageStatusOpen, by)
}

// RollbackStage recomputes the whole stage vector around target: earlier
// stages passed, target open, later stages locked. Applying it twice yields
// the same vector.
func (s *ProjectService) RollbackStage(ctx context.Context, projectID int64, target objects.StageKey) (*StageChange, error) {
	return govern(ctx, s.AbstractService, "stage.rollback", func(ctx context.Context, u *unit) (*StageChange, error) {
		vector, err := objects.RollbackVector(target)
		if err != nil {
			return nil, errs.Validation("unknown stage key %q", target)
		}

		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["stageKey"] = string(target)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourceStages,
			Action:    authz.ActionRollback,
			ClassID:   class.ID,
			TeamID:    team.ID,
			ProjectID: project.ID,
			Attrs:     attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		before, err := s.db.ListStages(ctx, project.ID)
		if err != nil {
			return nil, err
		}

		if len(before) != objects.StageCount {
			return nil, errs.Conflict("project %d has %d of %d stages", project.ID, len(before), objects.StageCount)
		}

		if _, err := s.db.ApplyStageVector(ctx, project.ID, vector, actorRef(ctx)); err != nil {
			return nil, err
		}

		after, err := s.db.ListStages(ctx, project.ID)
		if err != nil {
			return nil, err
		}

		change := &StageChange{
			Before: store.StageVector(before),
			After:  store.StageVector(after),
			Stages: after,
		}

		if err := s.notifyMembers(ctx, u, team, 0, notify.Message{
			Type:    notify.TypeStageChanged,
			Title:   "Project rolled back to " + string(target),
			Payload: map[string]any{"projectId": project.ID, "stage": string(target), "rollback": true},
		}); err != nil {
			return nil, err
		}

		return change, s.record(ctx, audit.Entry{
			Action:      "stage.rollback",
			TargetTable: "project_stages",
			TargetID:    project.ID,
			Before:      change.Before,
			After:       change.After,
			Scope:       projectScope(project),
		})
	})
}

// ListStages returns the ordered stages of a project. Students must belong to the team.
func (s *ProjectService) ListStages(ctx context.Context, projectID int64) ([]store.ProjectStage, error) {
	return read(ctx, s.AbstractService, "stage.list", func(ctx context.Context, actor *authz.Actor) ([]store.ProjectStage, error) {
		project, err := s.db.GetProject(ctx, projectID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if err := s.requireProjectReader(ctx, actor, project, authz.ResourceStages); err != nil {
			return nil, err
		}

		return s.db.ListStages(ctx, project.ID)
	})
}

// GetProject returns one project to its team members and class staff.
func (s *ProjectService) GetProject(ctx context.Context, projectID int64) (*store.Project, error) {
	return read(ctx, s.AbstractService, "project.get", func(ctx context.Context, actor *authz.Actor) (*store.Project, error) {
		project, err := s.db.GetProject(ctx, projectID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if err := s.requireProjectReader(ctx, actor, project, authz.ResourceProjects); err != nil {
			return nil, err
		}

		return project, nil
	})
}
