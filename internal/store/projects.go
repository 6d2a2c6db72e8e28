package store

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const projectColumns = "id, team_id, class_id, name, background, tech_stack, source_type, case_id, status, feedback, " +
	"submitted_at, reviewed_by, reviewed_at, created_at, updated_at, deleted_at"

func (d *DB) CreateProject(ctx context.Context, p *Project) error {
	now := d.now()
	p.Status = objects.ProjectStatusDraft

	id, err := d.insert(ctx,
		"INSERT INTO projects (team_id, class_id, name, background, tech_stack, source_type, case_id, status, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.TeamID, p.ClassID, p.Name, p.Background, p.TechStack, p.SourceType, p.CaseID, p.Status, now, now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return errs.Wrap(errs.KindConflict, err, "team %d already has a project", p.TeamID)
		}

		return err
	}

	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now

	return nil
}

func (d *DB) GetProject(ctx context.Context, id int64, lock Lock) (*Project, error) {
	var p Project

	err := d.get(ctx, &p, "SELECT "+projectColumns+" FROM projects WHERE id = ? AND deleted_at IS NULL"+d.lockClause(lock), id)
	if err != nil {
		return nil, notFound(err, "project %d not found", id)
	}

	return &p, nil
}

func (d *DB) FindProjectByTeam(ctx context.Context, teamID int64) (*Project, bool, error) {
	var p Project

	ok, err := d.find(ctx, &p, "SELECT "+projectColumns+" FROM projects WHERE team_id = ? AND deleted_at IS NULL", teamID)
	if !ok || err != nil {
		return nil, false, err
	}

	return &p, true, nil
}

// UpdateProjectContent writes the editable fields while the project is still editable.
func (d *DB) UpdateProjectContent(ctx context.Context, p *Project) error {
	now := d.now()

	n, err := d.exec(ctx,
		"UPDATE projects SET name = ?, background = ?, tech_stack = ?, source_type = ?, case_id = ?, updated_at = ? "+
			"WHERE id = ? AND status IN (?, ?) AND deleted_at IS NULL",
		p.Name, p.Background, p.TechStack, p.SourceType, p.CaseID, now,
		p.ID, objects.ProjectStatusDraft, objects.ProjectStatusRejected,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.Conflict("project %d is not editable", p.ID)
	}

	p.UpdatedAt = now

	return nil
}

// TransitionProject is a compare-and-set on status. Review fields are written
// when reviewer is non-nil; submittedAt is stamped when moving to submitted.
func (d *DB) TransitionProject(
	ctx context.Context,
	id int64,
	from []objects.ProjectStatus,
	to objects.ProjectStatus,
	reviewer *int64,
	feedback *string,
) error {
	if len(from) == 0 {
		return errs.InvalidTransition("any", string(to))
	}

	now := d.now()
	query := "UPDATE projects SET status = ?, updated_at = ?"
	args := []any{to, now}

	if to == objects.ProjectStatusSubmitted {
		query += ", submitted_at = ?"
		args = append(args, now)
	}

	if reviewer != nil {
		query += ", reviewed_by = ?, reviewed_at = ?, feedback = ?"
		args = append(args, *reviewer, now, feedback)
	}

	query += " WHERE id = ? AND deleted_at IS NULL AND status IN (?" + strings.Repeat(", ?", len(from)-1) + ")"
	args = append(args, id)
	args = append(args, lo.ToAnySlice(from)...)

	n, err := d.exec(ctx, query, args...)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.InvalidTransition(strings.Join(lo.Map(from, func(s objects.ProjectStatus, _ int) string {
			return string(s)
		}), "|"), string(to))
	}

	return nil
}
