package store

import (
	"context"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const joinRequestColumns = "id, team_id, class_id, student_id, status, message, decided_by, decided_at, created_at, updated_at"

func (d *DB) CreateJoinRequest(ctx context.Context, r *TeamJoinRequest) error {
	now := d.now()
	r.Status = objects.JoinRequestPending

	id, err := d.insert(ctx,
		"INSERT INTO team_join_requests (team_id, class_id, student_id, status, message, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.TeamID, r.ClassID, r.StudentID, r.Status, r.Message, now, now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return errs.Wrap(errs.KindConflict, err, "a pending join request already exists for team %d", r.TeamID)
		}

		return err
	}

	r.ID, r.CreatedAt, r.UpdatedAt = id, now, now

	return nil
}

func (d *DB) GetJoinRequest(ctx context.Context, id int64, lock Lock) (*TeamJoinRequest, error) {
	var r TeamJoinRequest

	err := d.get(ctx, &r, "SELECT "+joinRequestColumns+" FROM team_join_requests WHERE id = ?"+d.lockClause(lock), id)
	if err != nil {
		return nil, notFound(err, "join request %d not found", id)
	}

	return &r, nil
}

// ResolveJoinRequest moves a pending request to a terminal status. Only pending
// requests move; anything else is an invalid transition.
func (d *DB) ResolveJoinRequest(ctx context.Context, id int64, to objects.JoinRequestStatus, decidedBy *int64) error {
	now := d.now()

	n, err := d.exec(ctx,
		"UPDATE team_join_requests SET status = ?, decided_by = ?, decided_at = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, decidedBy, now, now, id, objects.JoinRequestPending,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.InvalidTransition("non-pending", string(to))
	}

	return nil
}

func (d *DB) ListPendingJoinRequests(ctx context.Context, teamID int64) ([]TeamJoinRequest, error) {
	var rs []TeamJoinRequest

	err := d.selectAll(ctx, &rs,
		"SELECT "+joinRequestColumns+" FROM team_join_requests WHERE team_id = ? AND status = ? ORDER BY id",
		teamID, objects.JoinRequestPending,
	)

	return rs, err
}
