package biz

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store"
)

// assertClassWritable rejects writes scoped to an archived class unless a
// repair is in progress.
func assertClassWritable(ctx context.Context, class *store.Class) error {
	if class.Archived() && !authz.IsRepairActive(ctx) {
		return errs.Frozen("class %d is archived", class.ID)
	}

	return nil
}

// assertTeamUnlocked rejects membership changes on a locked team unless a
// repair is in progress.
func assertTeamUnlocked(ctx context.Context, team *store.Team) error {
	if team.IsLocked && !authz.IsRepairActive(ctx) {
		return errs.Frozen("team %d is locked", team.ID)
	}

	return nil
}

// Loaders take row locks in class, team, project order so that concurrent
// transitions on the same scope serialize instead of deadlocking.

func (a *AbstractService) loadClass(ctx context.Context, classID int64) (*store.Class, error) {
	return a.db.GetClass(ctx, classID, store.LockShare)
}

func (a *AbstractService) loadTeam(ctx context.Context, teamID int64) (*store.Class, *store.Team, error) {
	peek, err := a.db.GetTeam(ctx, teamID, store.LockNone)
	if err != nil {
		return nil, nil, err
	}

	class, err := a.loadClass(ctx, peek.ClassID)
	if err != nil {
		return nil, nil, err
	}

	team, err := a.db.GetTeam(ctx, teamID, store.LockUpdate)
	if err != nil {
		return nil, nil, err
	}

	if team.ClassID != class.ID {
		return nil, nil, fmt.Errorf("team %d moved from class %d to %d", team.ID, class.ID, team.ClassID)
	}

	return class, team, nil
}

func (a *AbstractService) loadProject(ctx context.Context, projectID int64) (*store.Class, *store.Team, *store.Project, error) {
	peek, err := a.db.GetProject(ctx, projectID, store.LockNone)
	if err != nil {
		return nil, nil, nil, err
	}

	class, team, err := a.loadTeam(ctx, peek.TeamID)
	if err != nil {
		return nil, nil, nil, err
	}

	project, err := a.db.GetProject(ctx, projectID, store.LockUpdate)
	if err != nil {
		return nil, nil, nil, err
	}

	if project.ClassID != team.ClassID {
		return nil, nil, nil, fmt.Errorf("project %d class %d does not match team class %d", project.ID, project.ClassID, team.ClassID)
	}

	return class, team, project, nil
}

// isClassStaff reports whether actor governs the class: any admin, or a
// teacher assigned to it.
func (a *AbstractService) isClassStaff(ctx context.Context, actor *authz.Actor, classID int64) (bool, error) {
	switch actor.Role {
	case objects.RoleAdmin:
		return true, nil
	case objects.RoleTeacher:
		return a.db.IsClassTeacher(ctx, classID, actor.ID)
	default:
		return false, nil
	}
}

func (a *AbstractService) requireClassStaff(ctx context.Context, actor *authz.Actor, classID int64) error {
	ok, err := a.isClassStaff(ctx, actor, classID)
	if err != nil {
		return err
	}

	if !ok {
		return errs.Forbidden("class staff required")
	}

	return nil
}

// requireEnrolled checks that userID is a student of the class.
func (a *AbstractService) requireEnrolled(ctx context.Context, classID, userID int64) error {
	ok, err := a.db.IsClassStudent(ctx, classID, userID)
	if err != nil {
		return err
	}

	if !ok {
		return errs.Forbidden("user %d is not enrolled in class %d", userID, classID)
	}

	return nil
}

func (a *AbstractService) activeMemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	members, err := a.db.ListActiveMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}

	return lo.Map(members, func(m store.TeamMember, _ int) int64 {
		return m.StudentID
	}), nil
}

// notifyMembers queues msg for every active member of team except skip.
func (a *AbstractService) notifyMembers(ctx context.Context, u *unit, team *store.Team, skip int64, msg notify.Message) error {
	ids, err := a.activeMemberIDs(ctx, team.ID)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == skip {
			continue
		}

		m := msg
		m.UserID = id
		u.notify(m)
	}

	return nil
}

// requireProjectReader admits class staff and active members of the project team.
func (a *AbstractService) requireProjectReader(ctx context.Context, actor *authz.Actor, project *store.Project, resource authz.Resource) error {
	if err := a.authorize(ctx, actor, authz.Request{
		Resource:  resource,
		Action:    authz.ActionRead,
		ClassID:   project.ClassID,
		TeamID:    project.TeamID,
		ProjectID: project.ID,
		Attrs:     map[string]any{"projectStatus": string(project.Status)},
	}); err != nil {
		return err
	}

	if actor.Role != objects.RoleStudent {
		return a.requireClassStaff(ctx, actor, project.ClassID)
	}

	_, ok, err := a.db.FindTeamMember(ctx, project.TeamID, actor.ID)
	if err != nil {
		return err
	}

	if !ok {
		return errs.Forbidden("only members of team %d may read project %d", project.TeamID, project.ID)
	}

	return nil
}

func scopeAttrs(class *store.Class, team *store.Team, project *store.Project) map[string]any {
	attrs := map[string]any{}

	if class != nil {
		attrs["classStatus"] = string(class.Status)
	}

	if team != nil {
		attrs["teamLocked"] = team.IsLocked
		attrs["leaderId"] = team.LeaderID
	}

	if project != nil {
		attrs["projectStatus"] = string(project.Status)
	}

	return attrs
}
