package store

import (
	"context"
)

const assignmentColumns = "id, class_id, title, description, stage_key, type, deadline, created_by, created_at, updated_at, deleted_at"

func (d *DB) CreateAssignment(ctx context.Context, a *Assignment) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO assignments (class_id, title, description, stage_key, type, deadline, created_by, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ClassID, a.Title, a.Description, a.StageKey, a.Type, a.Deadline, a.CreatedBy, now, now,
	)
	if err != nil {
		return err
	}

	a.ID, a.CreatedAt, a.UpdatedAt = id, now, now

	return nil
}

func (d *DB) GetAssignment(ctx context.Context, id int64) (*Assignment, error) {
	var a Assignment

	err := d.get(ctx, &a, "SELECT "+assignmentColumns+" FROM assignments WHERE id = ? AND deleted_at IS NULL", id)
	if err != nil {
		return nil, notFound(err, "assignment %d not found", id)
	}

	return &a, nil
}
