package biz

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/pkg/xjson"
	"github.com/looplj/classhub/internal/pkg/xvalidator"
	"github.com/looplj/classhub/internal/store"
)

// NeutralCoefficient applies when a team's peer-review result is not adopted
// and no coefficient was forced, or when nothing was computed.
var NeutralCoefficient = decimal.NewFromInt(1)

type SubmitReviewInput struct {
	RevieweeID int64          `json:"revieweeId" validate:"required"`
	Payload    map[string]any `json:"payload" validate:"required"`
}

type AdoptionInput struct {
	// WindowID selects the window; the latest sealed or published window of
	// the class is used when nil.
	WindowID          *int64           `json:"windowId"`
	Adopt             bool             `json:"adopt"`
	ForcedCoefficient *decimal.Decimal `json:"forcedCoefficient"`
	Reason            *string          `json:"reason" validate:"omitempty,max=2000"`
}

type PeerReviewServiceParams struct {
	fx.In

	AbstractService *AbstractService
}

type PeerReviewService struct {
	*AbstractService
}

func NewPeerReviewService(params PeerReviewServiceParams) *PeerReviewService {
	return &PeerReviewService{AbstractService: params.AbstractService}
}

// OpenWindow opens a peer-review window for one stage of a class.
func (s *PeerReviewService) OpenWindow(ctx context.Context, classID int64, key objects.StageKey) (*store.PeerReviewWindow, error) {
	return govern(ctx, s.AbstractService, "peer_review.window.open", func(ctx context.Context, u *unit) (*store.PeerReviewWindow, error) {
		if _, err := objects.ParseStageKey(string(key)); err != nil {
			return nil, errs.Validation("unknown stage key %q", key)
		}

		class, err := s.loadClass(ctx, classID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, nil, nil)
		attrs["stageKey"] = string(key)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourcePeerReviews,
			Action:   authz.ActionManage,
			ClassID:  class.ID,
			Attrs:    attrs,
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
			return nil, errs.Validation("windows are opened by a user")
		}

		w := &store.PeerReviewWindow{ClassID: class.ID, StageKey: key, CreatedBy: *by}
		if err := s.db.CreateWindow(ctx, w); err != nil {
			return nil, err
		}

		return w, s.record(ctx, audit.Entry{
			Action:      "peer_review.window.open",
			TargetTable: "peer_review_windows",
			TargetID:    w.ID,
			After:       w,
			Scope:       audit.Scope{ClassID: class.ID},
		})
	})
}

// CloseWindow seals an open window. Sealing cannot be undone.
func (s *PeerReviewService) CloseWindow(ctx context.Context, windowID int64) (*store.PeerReviewWindow, error) {
	return s.transitionWindow(ctx, windowID, objects.WindowStatusOpen, objects.WindowStatusSealed, "peer_review.window.close")
}

// PublishWindow makes the reviews of a sealed window visible to students.
func (s *PeerReviewService) PublishWindow(ctx context.Context, windowID int64) (*store.PeerReviewWindow, error) {
	return s.transitionWindow(ctx, windowID, objects.WindowStatusSealed, objects.WindowStatusPublished, "peer_review.window.publish")
}

func (s *PeerReviewService) transitionWindow(ctx context.Context, windowID int64, from, to objects.WindowStatus, action string) (*store.PeerReviewWindow, error) {
	return govern(ctx, s.AbstractService, action, func(ctx context.Context, u *unit) (*store.PeerReviewWindow, error) {
		peek, err := s.db.GetWindow(ctx, windowID, store.LockNone)
		if err != nil {
			return nil, err
		}

		class, err := s.loadClass(ctx, peek.ClassID)
		if err != nil {
			return nil, err
		}

		w, err := s.db.GetWindow(ctx, windowID, store.LockUpdate)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, nil, nil)
		attrs["windowStatus"] = string(w.Status)

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourcePeerReviews,
			Action:   authz.ActionManage,
			ClassID:  class.ID,
			Attrs:    attrs,
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if w.Status != from {
			return nil, errs.InvalidTransition(string(w.Status), string(to))
		}

		if err := s.db.TransitionWindow(ctx, w.ID, from, to); err != nil {
			return nil, err
		}

		after, err := s.db.GetWindow(ctx, w.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if to == objects.WindowStatusPublished {
			students, err := s.db.ListClassStudents(ctx, class.ID)
			if err != nil {
				return nil, err
			}

			for _, id := range students {
				u.notify(notify.Message{
					UserID:  id,
					Type:    notify.TypeReviewsPublished,
					Title:   "Peer reviews published",
					Payload: map[string]any{"windowId": w.ID, "stage": string(w.StageKey)},
				})
			}
		}

		return after, s.record(ctx, audit.Entry{
			Action:      action,
			TargetTable: "peer_review_windows",
			TargetID:    w.ID,
			Before:      w,
			After:       after,
			Scope:       audit.Scope{ClassID: class.ID},
		})
	})
}

// SubmitReview records the acting student's review of a teammate in the open
// window matching the project's open stage. Each reviewer reviews each
// teammate at most once per window.
func (s *PeerReviewService) SubmitReview(ctx context.Context, projectID int64, input SubmitReviewInput) (*store.PeerReview, error) {
	return govern(ctx, s.AbstractService, "peer_review.submit", func(ctx context.Context, u *unit) (*store.PeerReview, error) {
		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		if input.RevieweeID == u.actor.ID {
			return nil, errs.Validation("reviewing oneself is not allowed")
		}

		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["revieweeId"] = input.RevieweeID

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourcePeerReviews,
			Action:    authz.ActionSubmit,
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
			return nil, errs.Forbidden("only current team members may review")
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if _, ok, err := s.db.FindTeamMember(ctx, team.ID, input.RevieweeID); err != nil {
			return nil, err
		} else if !ok {
			return nil, errs.Validation("user %d is not a current teammate", input.RevieweeID)
		}

		payload, err := xjson.Snapshot(input.Payload)
		if err != nil {
			return nil, errs.Validation("payload is not valid JSON")
		}

		if score := gjson.Get(*payload, "score"); score.Exists() && score.Type != gjson.Number {
			return nil, errs.ValidationFields(errs.FieldError{Field: "payload.score", Error: "score must be a number"})
		}

		stage, ok, err := s.db.FindOpenStage(ctx, project.ID)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, errs.Conflict("project %d has no open stage", project.ID)
		}

		w, ok, err := s.db.FindOpenWindow(ctx, class.ID, stage.Key)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, errs.Conflict("no open peer-review window for stage %s", stage.Key)
		}

		r := &store.PeerReview{
			WindowID:    w.ID,
			ClassID:     class.ID,
			TeamID:      team.ID,
			ProjectID:   project.ID,
			ReviewerID:  u.actor.ID,
			RevieweeID:  input.RevieweeID,
			PayloadJSON: *payload,
		}
		if err := s.db.CreateReview(ctx, r); err != nil {
			return nil, err
		}

		return r, s.record(ctx, audit.Entry{
			Action:      "peer_review.submit",
			TargetTable: "peer_reviews",
			TargetID:    r.ID,
			After:       r,
			Scope:       projectScope(project),
		})
	})
}

// ReviewView is a peer review as its reader may see it. Students get neither
// the reviewer nor the class and team ids.
type ReviewView struct {
	ID         int64     `json:"id"`
	WindowID   int64     `json:"windowId"`
	ClassID    *int64    `json:"classId,omitempty"`
	TeamID     *int64    `json:"teamId,omitempty"`
	ReviewerID *int64    `json:"reviewerId,omitempty"`
	RevieweeID int64     `json:"revieweeId"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

func staffReviewView(r store.PeerReview, _ int) ReviewView {
	v := studentReviewView(r, 0)
	v.ClassID, v.TeamID, v.ReviewerID = &r.ClassID, &r.TeamID, &r.ReviewerID

	return v
}

func studentReviewView(r store.PeerReview, _ int) ReviewView {
	return ReviewView{
		ID:         r.ID,
		WindowID:   r.WindowID,
		RevieweeID: r.RevieweeID,
		Payload:    r.PayloadJSON,
		CreatedAt:  r.CreatedAt,
	}
}

// ListReviews returns a project's peer reviews. Students see only reviews of
// published windows, only for their own team and without reviewers; class
// staff see everything.
func (s *PeerReviewService) ListReviews(ctx context.Context, projectID int64) ([]ReviewView, error) {
	return read(ctx, s.AbstractService, "peer_review.list", func(ctx context.Context, actor *authz.Actor) ([]ReviewView, error) {
		project, err := s.db.GetProject(ctx, projectID, store.LockNone)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, actor, authz.Request{
			Resource:  authz.ResourcePeerReviews,
			Action:    authz.ActionRead,
			ClassID:   project.ClassID,
			TeamID:    project.TeamID,
			ProjectID: project.ID,
		}); err != nil {
			return nil, err
		}

		staff, err := s.isClassStaff(ctx, actor, project.ClassID)
		if err != nil {
			return nil, err
		}

		if staff {
			reviews, err := s.db.ListProjectReviews(ctx, project.ID, false)
			if err != nil {
				return nil, err
			}

			return lo.Map(reviews, staffReviewView), nil
		}

		if err := s.requireTeamStudent(ctx, actor, project.TeamID); err != nil {
			return nil, err
		}

		reviews, err := s.db.ListProjectReviews(ctx, project.ID, true)
		if err != nil {
			return nil, err
		}

		return lo.Map(reviews, studentReviewView), nil
	})
}

// requireTeamStudent checks that a non-staff reader is a student on the team.
func (s *PeerReviewService) requireTeamStudent(ctx context.Context, actor *authz.Actor, teamID int64) error {
	if actor.Role != objects.RoleStudent {
		return errs.Forbidden("class staff required")
	}

	if _, ok, err := s.db.FindTeamMember(ctx, teamID, actor.ID); err != nil {
		return err
	} else if !ok {
		return errs.Forbidden("only members of team %d may read its reviews", teamID)
	}

	return nil
}

// DecideAdoption records whether the team's computed coefficients apply.
// When not adopted the forced coefficient defaults to 1. Later decisions
// overwrite earlier ones.
func (s *PeerReviewService) DecideAdoption(ctx context.Context, projectID int64, input AdoptionInput) (*store.PeerReviewAdoption, error) {
	return govern(ctx, s.AbstractService, "peer_review.decision", func(ctx context.Context, u *unit) (*store.PeerReviewAdoption, error) {
		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		if input.ForcedCoefficient != nil && input.ForcedCoefficient.IsNegative() {
			return nil, errs.ValidationFields(errs.FieldError{Field: "forcedCoefficient", Error: "must not be negative"})
		}

		class, team, project, err := s.loadProject(ctx, projectID)
		if err != nil {
			return nil, err
		}

		attrs := scopeAttrs(class, team, project)
		attrs["adopt"] = input.Adopt

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource:  authz.ResourcePeerReviews,
			Action:    authz.ActionDecide,
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

		w, err := s.decisionWindow(ctx, class.ID, input.WindowID)
		if err != nil {
			return nil, err
		}

		by := actorRef(ctx)
		if by == nil {
			return nil, errs.Validation("adoption is decided by a user")
		}

		before, _, err := s.db.FindAdoption(ctx, w.ID, team.ID)
		if err != nil {
			return nil, err
		}

		a := &store.PeerReviewAdoption{
			WindowID:  w.ID,
			TeamID:    team.ID,
			Adopted:   input.Adopt,
			Reason:    input.Reason,
			DecidedBy: *by,
		}

		if !input.Adopt {
			forced := NeutralCoefficient
			if input.ForcedCoefficient != nil {
				forced = *input.ForcedCoefficient
			}

			a.ForcedCoefficient = decimal.NewNullDecimal(forced)
		}

		if err := s.db.UpsertAdoption(ctx, a); err != nil {
			return nil, err
		}

		return a, s.record(ctx, audit.Entry{
			Action:      "peer_review.decision",
			TargetTable: "peer_review_adoptions",
			TargetID:    a.ID,
			Before:      before,
			After:       a,
			Scope:       projectScope(project),
		})
	})
}

func (s *PeerReviewService) decisionWindow(ctx context.Context, classID int64, windowID *int64) (*store.PeerReviewWindow, error) {
	if windowID == nil {
		w, ok, err := s.db.FindLatestClosedWindow(ctx, classID)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, errs.Conflict("class %d has no sealed peer-review window", classID)
		}

		return w, nil
	}

	w, err := s.db.GetWindow(ctx, *windowID, store.LockShare)
	if err != nil {
		return nil, err
	}

	if w.ClassID != classID {
		return nil, errs.NotFound("window %d not found in class %d", w.ID, classID)
	}

	if !w.Status.Closed() {
		return nil, errs.Conflict("window %d is %s", w.ID, w.Status)
	}

	return w, nil
}

// ComputeCoefficients derives per-member coefficients for one team from the
// "score" field of the reviews in a sealed or published window: each member's
// average received score divided by the team mean, rounded to 2 places.
func (s *PeerReviewService) ComputeCoefficients(ctx context.Context, windowID, teamID int64) ([]store.PeerReviewCoefficient, error) {
	return govern(ctx, s.AbstractService, "peer_review.coefficients", func(ctx context.Context, u *unit) ([]store.PeerReviewCoefficient, error) {
		class, team, err := s.loadTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		w, err := s.db.GetWindow(ctx, windowID, store.LockShare)
		if err != nil {
			return nil, err
		}

		if w.ClassID != class.ID {
			return nil, errs.NotFound("window %d not found in class %d", w.ID, class.ID)
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourcePeerReviews,
			Action:   authz.ActionManage,
			ClassID:  class.ID,
			TeamID:   team.ID,
			Attrs:    scopeAttrs(class, team, nil),
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		if !w.Status.Closed() {
			return nil, errs.Conflict("window %d is still %s", w.ID, w.Status)
		}

		reviews, err := s.db.ListWindowTeamReviews(ctx, w.ID, team.ID)
		if err != nil {
			return nil, err
		}

		before, err := s.db.ListCoefficients(ctx, w.ID, team.ID)
		if err != nil {
			return nil, err
		}

		for userID, c := range coefficients(ctx, reviews) {
			if err := s.db.UpsertCoefficient(ctx, &store.PeerReviewCoefficient{
				WindowID:    w.ID,
				TeamID:      team.ID,
				UserID:      userID,
				Coefficient: c,
			}); err != nil {
				return nil, err
			}
		}

		after, err := s.db.ListCoefficients(ctx, w.ID, team.ID)
		if err != nil {
			return nil, err
		}

		return after, s.record(ctx, audit.Entry{
			Action:      "peer_review.coefficients",
			TargetTable: "peer_review_coefficients",
			TargetID:    w.ID,
			Before:      before,
			After:       after,
			Scope:       audit.Scope{ClassID: class.ID, TeamID: team.ID},
		})
	})
}

// coefficients maps reviewee to average received score over the team mean.
// Reviews without a numeric score are ignored.
func coefficients(ctx context.Context, reviews []store.PeerReview) map[int64]decimal.Decimal {
	sums := map[int64]decimal.Decimal{}
	counts := map[int64]int64{}

	for _, r := range reviews {
		score := gjson.Get(r.PayloadJSON, "score")
		if score.Type != gjson.Number {
			continue
		}

		d, err := decimal.NewFromString(score.Raw)
		if err != nil {
			log.Warn(ctx, "skip unparsable peer review score", log.Int64("review_id", r.ID), log.Cause(err))
			continue
		}

		sums[r.RevieweeID] = sums[r.RevieweeID].Add(d)
		counts[r.RevieweeID]++
	}

	if len(sums) == 0 {
		return nil
	}

	averages := make(map[int64]decimal.Decimal, len(sums))
	total := decimal.Zero

	for id, sum := range sums {
		avg := sum.Div(decimal.NewFromInt(counts[id]))
		averages[id] = avg
		total = total.Add(avg)
	}

	mean := total.Div(decimal.NewFromInt(int64(len(averages))))

	out := make(map[int64]decimal.Decimal, len(averages))

	for id, avg := range averages {
		if mean.IsZero() {
			out[id] = NeutralCoefficient
			continue
		}

		out[id] = avg.Div(mean).Round(2)
	}

	return out
}

// EffectiveCoefficient returns the coefficient that applies to a member: the
// forced value when the team's result was not adopted, otherwise the computed
// value, or 1 when nothing was computed. Students read only their own value,
// and only once the window is published.
func (s *PeerReviewService) EffectiveCoefficient(ctx context.Context, windowID, teamID, userID int64) (decimal.Decimal, error) {
	return read(ctx, s.AbstractService, "peer_review.coefficient", func(ctx context.Context, actor *authz.Actor) (decimal.Decimal, error) {
		team, err := s.db.GetTeam(ctx, teamID, store.LockNone)
		if err != nil {
			return decimal.Zero, err
		}

		if err := s.authorize(ctx, actor, authz.Request{
			Resource: authz.ResourcePeerReviews,
			Action:   authz.ActionRead,
			ClassID:  team.ClassID,
			TeamID:   team.ID,
		}); err != nil {
			return decimal.Zero, err
		}

		window, err := s.db.GetWindow(ctx, windowID, store.LockNone)
		if err != nil {
			return decimal.Zero, err
		}

		if window.ClassID != team.ClassID {
			return decimal.Zero, errs.NotFound("peer review window %d not found in class %d", windowID, team.ClassID)
		}

		staff, err := s.isClassStaff(ctx, actor, team.ClassID)
		if err != nil {
			return decimal.Zero, err
		}

		if !staff {
			if actor.ID != userID {
				return decimal.Zero, errs.Forbidden("class staff required")
			}

			if err := s.requireTeamStudent(ctx, actor, team.ID); err != nil {
				return decimal.Zero, err
			}

			if window.Status != objects.WindowStatusPublished {
				return decimal.Zero, errs.Forbidden("peer review window %d is not published", window.ID)
			}
		}

		adoption, ok, err := s.db.FindAdoption(ctx, windowID, team.ID)
		if err != nil {
			return decimal.Zero, err
		}

		if ok && !adoption.Adopted {
			if adoption.ForcedCoefficient.Valid {
				return adoption.ForcedCoefficient.Decimal, nil
			}

			return NeutralCoefficient, nil
		}

		c, ok, err := s.db.FindCoefficient(ctx, windowID, team.ID, userID)
		if err != nil {
			return decimal.Zero, err
		}

		if !ok {
			return NeutralCoefficient, nil
		}

		return c.Coefficient, nil
	})
}
