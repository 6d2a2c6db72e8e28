package store

import (
	"context"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const teamColumns = "id, class_id, name, description, leader_id, status, is_locked, locked_at, created_at, updated_at, deleted_at"

func (d *DB) CreateTeam(ctx context.Context, t *Team) error {
	now := d.now()
	t.Status = objects.TeamStatusRecruiting
	t.IsLocked = false

	id, err := d.insert(ctx,
		"INSERT INTO teams (class_id, name, description, leader_id, status, is_locked, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, FALSE, ?, ?)",
		t.ClassID, t.Name, t.Description, t.LeaderID, t.Status, now, now,
	)
	if err != nil {
		return err
	}

	t.ID, t.CreatedAt, t.UpdatedAt = id, now, now

	return nil
}

func (d *DB) GetTeam(ctx context.Context, id int64, lock Lock) (*Team, error) {
	var t Team

	err := d.get(ctx, &t, "SELECT "+teamColumns+" FROM teams WHERE id = ? AND deleted_at IS NULL"+d.lockClause(lock), id)
	if err != nil {
		return nil, notFound(err, "team %d not found", id)
	}

	return &t, nil
}

// LockTeam sets status and isLocked together. It reports false when the team
// was already locked.
func (d *DB) LockTeam(ctx context.Context, id int64) (bool, error) {
	now := d.now()

	n, err := d.exec(ctx,
		"UPDATE teams SET status = ?, is_locked = TRUE, locked_at = ?, updated_at = ? WHERE id = ? AND is_locked = FALSE",
		objects.TeamStatusLocked, now, now, id,
	)

	return n > 0, err
}

func (d *DB) SetTeamLeader(ctx context.Context, id, leaderID int64) error {
	n, err := d.exec(ctx, "UPDATE teams SET leader_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL", leaderID, d.now(), id)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.NotFound("team %d not found", id)
	}

	return nil
}

const memberColumns = "id, team_id, class_id, student_id, is_active, joined_at, left_at"

// AddMember inserts an active membership. A concurrent membership for the same
// student in the class trips the partial unique index and comes back as Conflict.
func (d *DB) AddMember(ctx context.Context, m *TeamMember) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO team_members (team_id, class_id, student_id, is_active, joined_at) VALUES (?, ?, ?, TRUE, ?)",
		m.TeamID, m.ClassID, m.StudentID, now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return errs.Wrap(errs.KindConflict, err, "student %d already has an active team in class %d", m.StudentID, m.ClassID)
		}

		return err
	}

	m.ID, m.IsActive, m.JoinedAt = id, true, now

	return nil
}

// FindActiveMembership returns the student's active membership in the class, if any.
func (d *DB) FindActiveMembership(ctx context.Context, classID, studentID int64) (*TeamMember, bool, error) {
	var m TeamMember

	ok, err := d.find(ctx, &m,
		"SELECT "+memberColumns+" FROM team_members WHERE class_id = ? AND student_id = ? AND is_active = TRUE",
		classID, studentID,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &m, true, nil
}

// FindTeamMember returns the student's active membership in the given team, if any.
func (d *DB) FindTeamMember(ctx context.Context, teamID, studentID int64) (*TeamMember, bool, error) {
	var m TeamMember

	ok, err := d.find(ctx, &m,
		"SELECT "+memberColumns+" FROM team_members WHERE team_id = ? AND student_id = ? AND is_active = TRUE",
		teamID, studentID,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &m, true, nil
}

func (d *DB) ListActiveMembers(ctx context.Context, teamID int64) ([]TeamMember, error) {
	var ms []TeamMember

	err := d.selectAll(ctx, &ms,
		"SELECT "+memberColumns+" FROM team_members WHERE team_id = ? AND is_active = TRUE ORDER BY id",
		teamID,
	)

	return ms, err
}

func (d *DB) CountActiveMembers(ctx context.Context, teamID int64) (int, error) {
	var n int
	err := d.get(ctx, &n, "SELECT COUNT(*) FROM team_members WHERE team_id = ? AND is_active = TRUE", teamID)

	return n, err
}

// DeactivateMember ends an active membership. History rows are kept.
func (d *DB) DeactivateMember(ctx context.Context, id int64) error {
	n, err := d.exec(ctx,
		"UPDATE team_members SET is_active = FALSE, left_at = ? WHERE id = ? AND is_active = TRUE",
		d.now(), id,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.Conflict("membership %d is no longer active", id)
	}

	return nil
}
