package biz

import (
	"context"

	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store"
)

type AdminServiceParams struct {
	fx.In

	AbstractService *AbstractService
}

type AdminService struct {
	*AbstractService
}

func NewAdminService(params AdminServiceParams) *AdminService {
	return &AdminService{AbstractService: params.AbstractService}
}

// QueryAudit pages through the audit log newest first. Admins see every
// scope; teachers must name a class they teach.
func (s *AdminService) QueryAudit(ctx context.Context, filter audit.Filter) (*audit.Page, error) {
	return read(ctx, s.AbstractService, "audit.query", func(ctx context.Context, actor *authz.Actor) (*audit.Page, error) {
		req := authz.Request{Resource: authz.ResourceAudit, Action: authz.ActionRead}
		if filter.ClassID != nil {
			req.ClassID = *filter.ClassID
		}

		if err := s.authorize(ctx, actor, req); err != nil {
			return nil, err
		}

		if actor.Role != objects.RoleAdmin {
			if filter.ClassID == nil {
				return nil, errs.Forbidden("teachers must filter audit entries by class")
			}

			if err := s.requireClassStaff(ctx, actor, *filter.ClassID); err != nil {
				return nil, err
			}
		}

		return s.recorder.Query(ctx, filter)
	})
}

// ListAbacRules lists the registered rules and whether they are enforced.
func (s *AdminService) ListAbacRules(ctx context.Context) ([]authz.RuleInfo, error) {
	return read(ctx, s.AbstractService, "admin.abac.list", func(ctx context.Context, actor *authz.Actor) ([]authz.RuleInfo, error) {
		if err := s.authorize(ctx, actor, authz.Request{Resource: authz.ResourceAdmin, Action: authz.ActionRead}); err != nil {
			return nil, err
		}

		return s.authorizer.Registry().Rules(), nil
	})
}

// SetAbacRule enables or disables a registered rule. The toggle takes effect
// once its audit entry has committed.
func (s *AdminService) SetAbacRule(ctx context.Context, key string, enabled bool) (*authz.RuleInfo, error) {
	rule, err := govern(ctx, s.AbstractService, "admin.abac.toggle", func(ctx context.Context, u *unit) (*authz.RuleInfo, error) {
		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceAdmin,
			Action:   authz.ActionManage,
			Attrs:    map[string]any{"ruleKey": key, "enabled": enabled},
		}); err != nil {
			return nil, err
		}

		before, ok := s.findRule(key)
		if !ok {
			return nil, errs.NotFound("abac rule %s not found", key)
		}

		after := before
		after.Enabled = enabled

		return &after, s.record(ctx, audit.Entry{
			Action:      "admin.abac.toggle",
			TargetTable: "abac_rules",
			Before:      before,
			After:       after,
		})
	})
	if err != nil {
		return nil, err
	}

	registry := s.authorizer.Registry()
	if enabled {
		registry.Enable(key)
	} else {
		registry.Disable(key)
	}

	log.Info(ctx, "abac rule toggled", log.String("rule", key), log.Bool("enabled", enabled))

	return rule, nil
}

func (s *AdminService) findRule(key string) (authz.RuleInfo, bool) {
	for _, r := range s.authorizer.Registry().Rules() {
		if r.Key == key {
			return r, true
		}
	}

	return authz.RuleInfo{}, false
}

// RepairProject re-applies the activation side effects of an active project
// (team lock, missing stage rows). It runs under the repair hatch, so it also
// works on archived classes and locked teams.
func (s *AdminService) RepairProject(ctx context.Context, projectID int64, reason string) (*ReviewResult, error) {
	actor, err := authz.ActorFrom(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, actor, authz.Request{
		Resource:  authz.ResourceAdmin,
		Action:    authz.ActionManage,
		ProjectID: projectID,
	}); err != nil {
		return nil, err
	}

	return authz.RunWithRepair(ctx, reason, func(ctx context.Context) (*ReviewResult, error) {
		return govern(ctx, s.AbstractService, "admin.fix.project", func(ctx context.Context, u *unit) (*ReviewResult, error) {
			_, team, project, err := s.loadProject(ctx, projectID)
			if err != nil {
				return nil, err
			}

			if project.Status != objects.ProjectStatusActive {
				return nil, errs.Conflict("project %d is %s, only active projects are repaired", project.ID, project.Status)
			}

			before, err := s.db.ListStages(ctx, project.ID)
			if err != nil {
				return nil, err
			}

			stages, err := s.activate(ctx, team, project)
			if err != nil {
				return nil, err
			}

			locked, err := s.db.GetTeam(ctx, team.ID, store.LockNone)
			if err != nil {
				return nil, err
			}

			result := &ReviewResult{Project: project, Team: locked, Stages: stages}

			return result, s.record(ctx, audit.Entry{
				Action:      "admin.fix.project",
				TargetTable: "projects",
				TargetID:    project.ID,
				Before:      map[string]any{"team": team, "stages": before},
				After:       result,
				Scope:       projectScope(project),
			})
		})
	})
}
