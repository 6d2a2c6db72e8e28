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

type CreateTeamInput struct {
	Name        string  `json:"name" validate:"required,max=128"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

type ForceAssignInput struct {
	StudentID int64 `json:"studentId" validate:"required"`
	// TeamID places the student into an existing team; when nil a new team
	// named TeamName is created with the student as its leader.
	TeamID   *int64 `json:"teamId"`
	TeamName string `json:"teamName" validate:"required_without=TeamID,max=128"`
}

// TeamSnapshot is a team together with its active member ids, as recorded in audit entries.
type TeamSnapshot struct {
	Team    *store.Team `json:"team"`
	Members []int64     `json:"members"`
}

type TeamServiceParams struct {
	fx.In

	AbstractService *AbstractService
}

type TeamService struct {
	*AbstractService
}

func NewTeamService(params TeamServiceParams) *TeamService {
	return &TeamService{AbstractService: params.AbstractService}
}

func (s *TeamService) snapshot(ctx context.Context, teamID int64) (*TeamSnapshot, error) {
	team, err := s.db.GetTeam(ctx, teamID, store.LockNone)
	if err != nil {
		return nil, err
	}

	members, err := s.activeMemberIDs(ctx, teamID)
	if err != nil {
		return nil, err
	}

	return &TeamSnapshot{Team: team, Members: members}, nil
}

func teamScope(team *store.Team) audit.Scope {
	return audit.Scope{ClassID: team.ClassID, TeamID: team.ID}
}

// CreateTeam creates a recruiting team led by the acting student, together
// with the leader's membership.
func (s *TeamService) CreateTeam(ctx context.Context, classID int64, input CreateTeamInput) (*store.Team, error) {
	return govern(ctx, s.AbstractService, "team.create", func(ctx context.Context, u *unit) (*store.Team, error) {
		class, err := s.loadClass(ctx, classID)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionCreate,
			ClassID:  class.ID,
			Attrs:    scopeAttrs(class, nil, nil),
		}); err != nil {
			return nil, err
		}

		if u.actor.Role != objects.RoleStudent {
			return nil, errs.Forbidden("only students lead teams; staff use force assignment")
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		if err := s.requireEnrolled(ctx, class.ID, u.actor.ID); err != nil {
			return nil, err
		}

		return s.createTeam(ctx, class, u.actor.ID, input, "team.create")
	})
}

func (s *TeamService) createTeam(ctx context.Context, class *store.Class, leaderID int64, input CreateTeamInput, action string) (*store.Team, error) {
	if _, ok, err := s.db.FindActiveMembership(ctx, class.ID, leaderID); err != nil {
		return nil, err
	} else if ok {
		return nil, errs.Conflict("student %d already has an active team in class %d", leaderID, class.ID)
	}

	team := &store.Team{
		ClassID:     class.ID,
		Name:        input.Name,
		Description: input.Description,
		LeaderID:    leaderID,
	}
	if err := s.db.CreateTeam(ctx, team); err != nil {
		return nil, err
	}

	if err := s.db.AddMember(ctx, &store.TeamMember{
		TeamID:    team.ID,
		ClassID:   team.ClassID,
		StudentID: leaderID,
	}); err != nil {
		return nil, err
	}

	after, err := s.snapshot(ctx, team.ID)
	if err != nil {
		return nil, err
	}

	return after.Team, s.record(ctx, audit.Entry{
		Action:      action,
		TargetTable: "teams",
		TargetID:    team.ID,
		After:       after,
		Scope:       teamScope(team),
	})
}

// RequestJoin files a pending join request from the acting student.
func (s *TeamService) RequestJoin(ctx context.Context, teamID int64, message *string) (*store.TeamJoinRequest, error) {
	return govern(ctx, s.AbstractService, "team.join_request.create", func(ctx context.Context, u *unit) (*store.TeamJoinRequest, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionJoin,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    scopeAttrs(class, team, nil),
		}); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if err := assertTeamUnlocked(ctx, team); err != nil {
			return nil, err
		}

		if err := s.requireEnrolled(ctx, class.ID, u.actor.ID); err != nil {
			return nil, err
		}

		if _, ok, err := s.db.FindActiveMembership(ctx, class.ID, u.actor.ID); err != nil {
			return nil, err
		} else if ok {
			return nil, errs.Conflict("student %d already has an active team in class %d", u.actor.ID, class.ID)
		}

		req := &store.TeamJoinRequest{
			TeamID:    team.ID,
			ClassID:   team.ClassID,
			StudentID: u.actor.ID,
			Message:   message,
		}
		if err := s.db.CreateJoinRequest(ctx, req); err != nil {
			return nil, err
		}

		u.notify(notify.Message{
			UserID:  team.LeaderID,
			Type:    notify.TypeJoinRequest,
			Title:   "New join request",
			Body:    fmt.Sprintf("A student asked to join %s", team.Name),
			Payload: map[string]any{"teamId": team.ID, "requestId": req.ID, "studentId": req.StudentID},
		})

		return req, s.record(ctx, audit.Entry{
			Action:      "team.join_request.create",
			TargetTable: "team_join_requests",
			TargetID:    req.ID,
			After:       req,
			Scope:       teamScope(team),
		})
	})
}

// CancelJoin withdraws the acting student's own pending request.
func (s *TeamService) CancelJoin(ctx context.Context, requestID int64) (*store.TeamJoinRequest, error) {
	return govern(ctx, s.AbstractService, "team.join_request.cancel", func(ctx context.Context, u *unit) (*store.TeamJoinRequest, error) {
		peek, err := s.db.GetJoinRequest(ctx, requestID, store.LockNone)
		if err != nil {
			return nil, err
		}

		class, team, err := s.loadTeam(ctx, peek.TeamID)
		if err != nil {
			return nil, err
		}

		req, err := s.db.GetJoinRequest(ctx, requestID, store.LockUpdate)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionJoin,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    scopeAttrs(class, team, nil),
		}); err != nil {
			return nil, err
		}

		if req.StudentID != u.actor.ID {
			return nil, errs.Forbidden("only the requester may cancel a join request")
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if err := assertTeamUnlocked(ctx, team); err != nil {
			return nil, err
		}

		if err := s.db.ResolveJoinRequest(ctx, req.ID, objects.JoinRequestCancelled, actorRef(ctx)); err != nil {
			return nil, err
		}

		after, err := s.db.GetJoinRequest(ctx, req.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		return after, s.record(ctx, audit.Entry{
			Action:      "team.join_request.cancel",
			TargetTable: "team_join_requests",
			TargetID:    req.ID,
			Before:      req,
			After:       after,
			Scope:       teamScope(team),
		})
	})
}

// DecideJoin approves or rejects a pending request. The team leader or class
// staff may decide. Approval fails if the student joined another team in the
// meantime or the team is full.
func (s *TeamService) DecideJoin(ctx context.Context, teamID, requestID int64, decision objects.ReviewDecision) (*store.TeamJoinRequest, error) {
	return govern(ctx, s.AbstractService, "team.join_request.review", func(ctx context.Context, u *unit) (*store.TeamJoinRequest, error) {
		if !decision.Valid() {
			return nil, errs.Validation("unknown decision %q", decision)
		}

		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		req, err := s.db.GetJoinRequest(ctx, requestID, store.LockUpdate)
		if err != nil {
			return nil, err
		}

		if req.TeamID != team.ID {
			return nil, errs.NotFound("join request %d not found in team %d", requestID, team.ID)
		}

		isLeader := team.LeaderID == u.actor.ID

		attrs := scopeAttrs(class, team, nil)
		attrs["isLeader"] = isLeader
		attrs["decision"] = string(decision)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionUpdate,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    attrs,
		}); err != nil {
			return nil, err
		}

		if !isLeader {
			if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
				return nil, errs.Forbidden("only the team leader or class staff may decide join requests")
			}
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if err := assertTeamUnlocked(ctx, team); err != nil {
			return nil, err
		}

		if req.Status != objects.JoinRequestPending {
			return nil, errs.InvalidTransition(string(req.Status), string(decision))
		}

		to := objects.JoinRequestRejected

		if decision == objects.DecisionApproved {
			to = objects.JoinRequestApproved

			if _, ok, err := s.db.FindActiveMembership(ctx, class.ID, req.StudentID); err != nil {
				return nil, err
			} else if ok {
				return nil, errs.Conflict("student %d already has an active team in class %d", req.StudentID, class.ID)
			}

			if err := s.assertRoom(ctx, class, team); err != nil {
				return nil, err
			}
		}

		if err := s.db.ResolveJoinRequest(ctx, req.ID, to, actorRef(ctx)); err != nil {
			return nil, err
		}

		if to == objects.JoinRequestApproved {
			if err := s.db.AddMember(ctx, &store.TeamMember{
				TeamID:    team.ID,
				ClassID:   team.ClassID,
				StudentID: req.StudentID,
			}); err != nil {
				return nil, err
			}
		}

		after, err := s.db.GetJoinRequest(ctx, req.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		u.notify(notify.Message{
			UserID:  req.StudentID,
			Type:    notify.TypeJoinDecision,
			Title:   "Join request " + string(to),
			Body:    fmt.Sprintf("Your request to join %s was %s", team.Name, to),
			Payload: map[string]any{"teamId": team.ID, "requestId": req.ID, "status": string(to)},
		})

		return after, s.record(ctx, audit.Entry{
			Action:      "team.join_request.review",
			TargetTable: "team_join_requests",
			TargetID:    req.ID,
			Before:      req,
			After:       after,
			Scope:       teamScope(team),
		})
	})
}

// assertRoom enforces the class's maximum team size.
func (s *TeamService) assertRoom(ctx context.Context, class *store.Class, team *store.Team) error {
	cfg, err := objects.ParseClassConfig(class.ConfigJSON)
	if err != nil {
		return err
	}

	n, err := s.db.CountActiveMembers(ctx, team.ID)
	if err != nil {
		return err
	}

	if n >= cfg.TeamSizeMax {
		return errs.Conflict("team %d is full (%d members)", team.ID, n)
	}

	return nil
}

// Leave ends the acting student's membership. The leader must transfer
// leadership first.
func (s *TeamService) Leave(ctx context.Context, teamID int64) error {
	_, err := govern(ctx, s.AbstractService, "team.member.leave", func(ctx context.Context, u *unit) (struct{}, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return struct{}{}, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionLeave,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    scopeAttrs(class, team, nil),
		}); err != nil {
			return struct{}{}, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return struct{}{}, err
		}

		if err := assertTeamUnlocked(ctx, team); err != nil {
			return struct{}{}, err
		}

		member, ok, err := s.db.FindTeamMember(ctx, team.ID, u.actor.ID)
		if err != nil {
			return struct{}{}, err
		}

		if !ok {
			return struct{}{}, errs.NotFound("user %d is not an active member of team %d", u.actor.ID, team.ID)
		}

		if team.LeaderID == u.actor.ID {
			return struct{}{}, errs.Conflict("the leader must transfer leadership before leaving")
		}

		return struct{}{}, s.removeMember(ctx, team, member, "team.member.leave")
	})

	return err
}

// RemoveMember removes a non-leader member. The leader or class staff may remove.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, studentID int64) error {
	_, err := govern(ctx, s.AbstractService, "team.member.remove", func(ctx context.Context, u *unit) (struct{}, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return struct{}{}, err
		}

		isLeader := team.LeaderID == u.actor.ID

		attrs := scopeAttrs(class, team, nil)
		attrs["isLeader"] = isLeader
		attrs["targetId"] = studentID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionUpdate,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    attrs,
		}); err != nil {
			return struct{}{}, err
		}

		if !isLeader {
			if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
				return struct{}{}, errs.Forbidden("only the team leader or class staff may remove members")
			}
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return struct{}{}, err
		}

		if err := assertTeamUnlocked(ctx, team); err != nil {
			return struct{}{}, err
		}

		if studentID == team.LeaderID {
			return struct{}{}, errs.Conflict("the leader cannot be removed")
		}

		member, ok, err := s.db.FindTeamMember(ctx, team.ID, studentID)
		if err != nil {
			return struct{}{}, err
		}

		if !ok {
			return struct{}{}, errs.NotFound("user %d is not an active member of team %d", studentID, team.ID)
		}

		u.notify(notify.Message{
			UserID:  studentID,
			Type:    notify.TypeMemberRemoved,
			Title:   "Removed from team",
			Body:    fmt.Sprintf("You were removed from %s", team.Name),
			Payload: map[string]any{"teamId": team.ID},
		})

		return struct{}{}, s.removeMember(ctx, team, member, "team.member.remove")
	})

	return err
}

func (s *TeamService) removeMember(ctx context.Context, team *store.Team, member *store.TeamMember, action string) error {
	before, err := s.snapshot(ctx, team.ID)
	if err != nil {
		return err
	}

	if err := s.db.DeactivateMember(ctx, member.ID); err != nil {
		return err
	}

	after, err := s.snapshot(ctx, team.ID)
	if err != nil {
		return err
	}

	return s.record(ctx, audit.Entry{
		Action:      action,
		TargetTable: "team_members",
		TargetID:    member.ID,
		Before:      before,
		After:       after,
		Scope:       teamScope(team),
	})
}

// TransferLeader hands leadership to another active member. Only the current leader may transfer.
func (s *TeamService) TransferLeader(ctx context.Context, teamID, newLeaderID int64) (*store.Team, error) {
	return govern(ctx, s.AbstractService, "team.leader.transfer", func(ctx context.Context, u *unit) (*store.Team, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, nil)
		attrs["isLeader"] = team.LeaderID == u.actor.ID
		attrs["targetId"] = newLeaderID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionUpdate,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    attrs,
		}); err != nil {
			return nil, err
		}

		if team.LeaderID != u.actor.ID {
			return nil, errs.Forbidden("leader required")
		}

		return s.setLeader(ctx, u, class, team, newLeaderID, "team.leader.transfer", nil)
	})
}

// ForceTransferLeader lets class staff reassign leadership. An optional reason
// is kept on the audit entry.
func (s *TeamService) ForceTransferLeader(ctx context.Context, teamID, newLeaderID int64, reason *string) (*store.Team, error) {
	return govern(ctx, s.AbstractService, "team.leader.force", func(ctx context.Context, u *unit) (*store.Team, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, nil)
		attrs["targetId"] = newLeaderID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionForce,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		var notes map[string]any
		if reason != nil && *reason != "" {
			notes = map[string]any{"reason": *reason}
		}

		return s.setLeader(ctx, u, class, team, newLeaderID, "team.leader.force", notes)
	})
}

func (s *TeamService) setLeader(ctx context.Context, u *unit, class *store.Class, team *store.Team, newLeaderID int64, action string, notes map[string]any) (*store.Team, error) {
	if err := assertClassWritable(ctx, class); err != nil {
		return nil, err
	}

	if err := assertTeamUnlocked(ctx, team); err != nil {
		return nil, err
	}

	if newLeaderID == team.LeaderID {
		return nil, errs.Validation("user %d already leads team %d", newLeaderID, team.ID)
	}

	if _, ok, err := s.db.FindTeamMember(ctx, team.ID, newLeaderID); err != nil {
		return nil, err
	} else if !ok {
		return nil, errs.Conflict("user %d is not an active member of team %d", newLeaderID, team.ID)
	}

	if err := s.db.SetTeamLeader(ctx, team.ID, newLeaderID); err != nil {
		return nil, err
	}

	after, err := s.db.GetTeam(ctx, team.ID, store.LockNone)
	if err != nil {
		return nil, err
	}

	u.notify(notify.Message{
		UserID:  newLeaderID,
		Type:    notify.TypeLeaderChanged,
		Title:   "You now lead " + team.Name,
		Payload: map[string]any{"teamId": team.ID, "previousLeaderId": team.LeaderID},
	})

	return after, s.record(ctx, audit.Entry{
		Action:      action,
		TargetTable: "teams",
		TargetID:    team.ID,
		Before:      team,
		After:       after,
		Scope:       teamScope(team),
		Notes:       notes,
	})
}

// ForceAssign lets class staff place an enrolled student without a team into
// an existing team, or into a new team the student leads.
func (s *TeamService) ForceAssign(ctx context.Context, classID int64, input ForceAssignInput) (*store.Team, error) {
	return govern(ctx, s.AbstractService, "team.force.assign", func(ctx context.Context, u *unit) (*store.Team, error) {
		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		class, err := s.loadClass(ctx, classID)
		if err != nil {
			return nil, err
		}

		var team *store.Team

		if input.TeamID != nil {
			_, team, err = s.loadTeam(ctx, *input.TeamID)
			if err != nil {
				return nil, err
			}

			if team.ClassID != class.ID {
				return nil, errs.NotFound("team %d not found in class %d", team.ID, class.ID)
			}
		}

		attrs := scopeAttrs(class, team, nil)
		attrs["targetId"] = input.StudentID

		req := authz.Request{
			Resource: authz.ResourceTeams,
			Action:   authz.ActionForce,
			ClassID:  class.ID,
			Attrs:    attrs,
		}
		if team != nil {
			req.TeamID = team.ID
		}

		if err := s.authorize(ctx, u.actor, req); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if err := s.requireEnrolled(ctx, class.ID, input.StudentID); err != nil {
			return nil, errs.Validation("student %d is not enrolled in class %d", input.StudentID, class.ID)
		}

		if team == nil {
			created, err := s.createTeam(ctx, class, input.StudentID, CreateTeamInput{Name: input.TeamName}, "team.force.create")
			if err != nil {
				return nil, err
			}

			u.notify(notify.Message{
				UserID:  input.StudentID,
				Type:    notify.TypeForceAssigned,
				Title:   "You were assigned to " + created.Name,
				Payload: map[string]any{"teamId": created.ID},
			})

			return created, nil
		}

		if err := assertTeamUnlocked(ctx, team); err != nil {
			return nil, err
		}

		if _, ok, err := s.db.FindActiveMembership(ctx, class.ID, input.StudentID); err != nil {
			return nil, err
		} else if ok {
			return nil, errs.Conflict("student %d already has an active team in class %d", input.StudentID, class.ID)
		}

		if err := s.assertRoom(ctx, class, team); err != nil {
			return nil, err
		}

		before, err := s.snapshot(ctx, team.ID)
		if err != nil {
			return nil, err
		}

		if err := s.db.AddMember(ctx, &store.TeamMember{
			TeamID:    team.ID,
			ClassID:   team.ClassID,
			StudentID: input.StudentID,
		}); err != nil {
			return nil, err
		}

		after, err := s.snapshot(ctx, team.ID)
		if err != nil {
			return nil, err
		}

		u.notify(notify.Message{
			UserID:  input.StudentID,
			Type:    notify.TypeForceAssigned,
			Title:   "You were assigned to " + team.Name,
			Payload: map[string]any{"teamId": team.ID},
		})

		return team, s.record(ctx, audit.Entry{
			Action:      "team.force.assign",
			TargetTable: "team_members",
			TargetID:    team.ID,
			Before:      before,
			After:       after,
			Scope:       teamScope(team),
		})
	})
}
