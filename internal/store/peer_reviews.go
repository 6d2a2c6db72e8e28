package store

import (
	"context"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const windowColumns = "id, class_id, stage_key, status, created_by, opened_at, sealed_at, published_at, created_at, updated_at"

func (d *DB) CreateWindow(ctx context.Context, w *PeerReviewWindow) error {
	now := d.now()
	w.Status = objects.WindowStatusOpen
	w.OpenedAt = &now

	id, err := d.insert(ctx,
		"INSERT INTO peer_review_windows (class_id, stage_key, status, created_by, opened_at, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		w.ClassID, w.StageKey, w.Status, w.CreatedBy, now, now, now,
	)
	if err != nil {
		return err
	}

	w.ID, w.CreatedAt, w.UpdatedAt = id, now, now

	return nil
}

func (d *DB) GetWindow(ctx context.Context, id int64, lock Lock) (*PeerReviewWindow, error) {
	var w PeerReviewWindow

	err := d.get(ctx, &w, "SELECT "+windowColumns+" FROM peer_review_windows WHERE id = ?"+d.lockClause(lock), id)
	if err != nil {
		return nil, notFound(err, "peer review window %d not found", id)
	}

	return &w, nil
}

// TransitionWindow moves a window forward and stamps the matching timestamp.
func (d *DB) TransitionWindow(ctx context.Context, id int64, from, to objects.WindowStatus) error {
	var column string

	switch to {
	case objects.WindowStatusSealed:
		column = "sealed_at"
	case objects.WindowStatusPublished:
		column = "published_at"
	default:
		return errs.InvalidTransition(string(from), string(to))
	}

	now := d.now()

	n, err := d.exec(ctx,
		"UPDATE peer_review_windows SET status = ?, "+column+" = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, now, now, id, from,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.InvalidTransition(string(from), string(to))
	}

	return nil
}

// FindOpenWindow returns the newest open window for a class and stage.
func (d *DB) FindOpenWindow(ctx context.Context, classID int64, key objects.StageKey) (*PeerReviewWindow, bool, error) {
	var w PeerReviewWindow

	ok, err := d.find(ctx, &w,
		"SELECT "+windowColumns+" FROM peer_review_windows WHERE class_id = ? AND stage_key = ? AND status = ? ORDER BY id DESC LIMIT 1",
		classID, key, objects.WindowStatusOpen,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &w, true, nil
}

// FindLatestClosedWindow returns the newest sealed or published window of a class.
func (d *DB) FindLatestClosedWindow(ctx context.Context, classID int64) (*PeerReviewWindow, bool, error) {
	var w PeerReviewWindow

	ok, err := d.find(ctx, &w,
		"SELECT "+windowColumns+" FROM peer_review_windows WHERE class_id = ? AND status IN (?, ?) ORDER BY id DESC LIMIT 1",
		classID, objects.WindowStatusSealed, objects.WindowStatusPublished,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &w, true, nil
}

const reviewColumns = "id, window_id, class_id, team_id, project_id, reviewer_id, reviewee_id, payload_json, created_at"

func (d *DB) CreateReview(ctx context.Context, r *PeerReview) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO peer_reviews (window_id, class_id, team_id, project_id, reviewer_id, reviewee_id, payload_json, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.WindowID, r.ClassID, r.TeamID, r.ProjectID, r.ReviewerID, r.RevieweeID, r.PayloadJSON, now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return errs.Wrap(errs.KindConflict, err, "reviewer %d already reviewed %d in window %d", r.ReviewerID, r.RevieweeID, r.WindowID)
		}

		return err
	}

	r.ID, r.CreatedAt = id, now

	return nil
}

// ListProjectReviews returns the reviews of a project. With publishedOnly set,
// reviews whose window is not yet published are filtered out in the query.
func (d *DB) ListProjectReviews(ctx context.Context, projectID int64, publishedOnly bool) ([]PeerReview, error) {
	var rs []PeerReview

	query := "SELECT r.id, r.window_id, r.class_id, r.team_id, r.project_id, r.reviewer_id, r.reviewee_id, r.payload_json, r.created_at " +
		"FROM peer_reviews r JOIN peer_review_windows w ON w.id = r.window_id WHERE r.project_id = ?"
	args := []any{projectID}

	if publishedOnly {
		query += " AND w.status = ?"
		args = append(args, objects.WindowStatusPublished)
	}

	err := d.selectAll(ctx, &rs, query+" ORDER BY r.id", args...)

	return rs, err
}

func (d *DB) ListWindowTeamReviews(ctx context.Context, windowID, teamID int64) ([]PeerReview, error) {
	var rs []PeerReview

	err := d.selectAll(ctx, &rs,
		"SELECT "+reviewColumns+" FROM peer_reviews WHERE window_id = ? AND team_id = ? ORDER BY id",
		windowID, teamID,
	)

	return rs, err
}

// UpsertAdoption keeps one decision per window and team; later decisions overwrite.
func (d *DB) UpsertAdoption(ctx context.Context, a *PeerReviewAdoption) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO peer_review_adoptions (window_id, team_id, adopted, forced_coefficient, reason, decided_by, decided_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT (window_id, team_id) DO UPDATE SET adopted = excluded.adopted, "+
			"forced_coefficient = excluded.forced_coefficient, reason = excluded.reason, "+
			"decided_by = excluded.decided_by, decided_at = excluded.decided_at",
		a.WindowID, a.TeamID, a.Adopted, a.ForcedCoefficient, a.Reason, a.DecidedBy, now,
	)
	if err != nil {
		return err
	}

	a.ID, a.DecidedAt = id, now

	return nil
}

func (d *DB) FindAdoption(ctx context.Context, windowID, teamID int64) (*PeerReviewAdoption, bool, error) {
	var a PeerReviewAdoption

	ok, err := d.find(ctx, &a,
		"SELECT id, window_id, team_id, adopted, forced_coefficient, reason, decided_by, decided_at "+
			"FROM peer_review_adoptions WHERE window_id = ? AND team_id = ?",
		windowID, teamID,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &a, true, nil
}

const coefficientColumns = "id, window_id, team_id, user_id, coefficient, computed_at"

func (d *DB) UpsertCoefficient(ctx context.Context, c *PeerReviewCoefficient) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO peer_review_coefficients (window_id, team_id, user_id, coefficient, computed_at) VALUES (?, ?, ?, ?, ?) "+
			"ON CONFLICT (window_id, team_id, user_id) DO UPDATE SET coefficient = excluded.coefficient, computed_at = excluded.computed_at",
		c.WindowID, c.TeamID, c.UserID, c.Coefficient, now,
	)
	if err != nil {
		return err
	}

	c.ID, c.ComputedAt = id, now

	return nil
}

func (d *DB) FindCoefficient(ctx context.Context, windowID, teamID, userID int64) (*PeerReviewCoefficient, bool, error) {
	var c PeerReviewCoefficient

	ok, err := d.find(ctx, &c,
		"SELECT "+coefficientColumns+" FROM peer_review_coefficients WHERE window_id = ? AND team_id = ? AND user_id = ?",
		windowID, teamID, userID,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &c, true, nil
}

func (d *DB) ListCoefficients(ctx context.Context, windowID, teamID int64) ([]PeerReviewCoefficient, error) {
	var cs []PeerReviewCoefficient

	err := d.selectAll(ctx, &cs,
		"SELECT "+coefficientColumns+" FROM peer_review_coefficients WHERE window_id = ? AND team_id = ? ORDER BY user_id",
		windowID, teamID,
	)

	return cs, err
}
