package store

import (
	"context"
	"strings"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const stageColumns = "id, project_id, stage_key, stage_order, status, updated_by, created_at, updated_at"

func (d *DB) ListStages(ctx context.Context, projectID int64) ([]ProjectStage, error) {
	var ss []ProjectStage

	err := d.selectAll(ctx, &ss,
		"SELECT "+stageColumns+" FROM project_stages WHERE project_id = ? ORDER BY stage_order",
		projectID,
	)

	return ss, err
}

func (d *DB) GetStage(ctx context.Context, projectID int64, key objects.StageKey) (*ProjectStage, error) {
	var s ProjectStage

	err := d.get(ctx, &s,
		"SELECT "+stageColumns+" FROM project_stages WHERE project_id = ? AND stage_key = ?",
		projectID, key,
	)
	if err != nil {
		return nil, notFound(err, "stage %s of project %d not found", key, projectID)
	}

	return &s, nil
}

// FindOpenStage returns the single open stage of a project, if any.
func (d *DB) FindOpenStage(ctx context.Context, projectID int64) (*ProjectStage, bool, error) {
	var s ProjectStage

	ok, err := d.find(ctx, &s,
		"SELECT "+stageColumns+" FROM project_stages WHERE project_id = ? AND status = ? ORDER BY stage_order LIMIT 1",
		projectID, objects.StageStatusOpen,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &s, true, nil
}

// MaterializeStages inserts the canonical stage rows with the given vector.
// Rows that already exist are left untouched. It returns the number inserted.
func (d *DB) MaterializeStages(ctx context.Context, projectID int64, v objects.StageVector, by *int64) (int, error) {
	now := d.now()
	inserted := 0

	for i, key := range objects.StageKeys {
		n, err := d.exec(ctx,
			"INSERT INTO project_stages (project_id, stage_key, stage_order, status, updated_by, created_at, updated_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
			projectID, key, i+1, v[i], by, now, now,
		)
		if err != nil {
			return inserted, err
		}

		inserted += int(n)
	}

	return inserted, nil
}

// SetStageStatus updates one stage. When from is non-empty the update only
// applies while the stage still has that status.
func (d *DB) SetStageStatus(ctx context.Context, id int64, from, to objects.StageStatus, by *int64) error {
	query := "UPDATE project_stages SET status = ?, updated_by = ?, updated_at = ? WHERE id = ?"
	args := []any{to, by, d.now(), id}

	if from != "" {
		query += " AND status = ?"
		args = append(args, from)
	}

	n, err := d.exec(ctx, query, args...)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.InvalidTransition(string(from), string(to))
	}

	return nil
}

// ApplyStageVector writes a full status vector in one statement so a project
// never observes a partially applied vector.
func (d *DB) ApplyStageVector(ctx context.Context, projectID int64, v objects.StageVector, by *int64) (int64, error) {
	var sb strings.Builder

	args := make([]any, 0, 2*objects.StageCount+3)

	sb.WriteString("UPDATE project_stages SET status = CASE stage_order")

	for i, s := range v {
		sb.WriteString(" WHEN ? THEN ?")

		args = append(args, i+1, s)
	}

	sb.WriteString(" ELSE status END, updated_by = ?, updated_at = ? WHERE project_id = ?")

	args = append(args, by, d.now(), projectID)

	return d.exec(ctx, sb.String(), args...)
}
