package store

import (
	"context"
	"time"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const classColumns = "id, name, term, status, config_json, allow_student_download_after_archived, " +
	"created_by, archived_at, created_at, updated_at, deleted_at"

func (d *DB) CreateClass(ctx context.Context, c *Class) error {
	now := d.now()

	if c.Status == "" {
		c.Status = objects.ClassStatusActive
	}

	id, err := d.insert(ctx,
		"INSERT INTO classes (name, term, status, config_json, allow_student_download_after_archived, created_by, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.Name, c.Term, c.Status, c.ConfigJSON, c.AllowStudentDownloadAfterArchived, c.CreatedBy, now, now,
	)
	if err != nil {
		return err
	}

	c.ID, c.CreatedAt, c.UpdatedAt = id, now, now

	return nil
}

// GetClass loads a non-deleted class. Guards pass LockShare so the archival
// flag cannot flip underneath the transaction.
func (d *DB) GetClass(ctx context.Context, id int64, lock Lock) (*Class, error) {
	var c Class

	err := d.get(ctx, &c, "SELECT "+classColumns+" FROM classes WHERE id = ? AND deleted_at IS NULL"+d.lockClause(lock), id)
	if err != nil {
		return nil, notFound(err, "class %d not found", id)
	}

	return &c, nil
}

func (d *DB) UpdateClassSettings(ctx context.Context, id int64, configJSON string, allowDownload bool) error {
	n, err := d.exec(ctx,
		"UPDATE classes SET config_json = ?, allow_student_download_after_archived = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		configJSON, allowDownload, d.now(), id,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.NotFound("class %d not found", id)
	}

	return nil
}

// SetClassStatus moves the class between active and archived. It fails with
// Conflict when the class is not in the from status.
func (d *DB) SetClassStatus(ctx context.Context, id int64, from, to objects.ClassStatus) error {
	now := d.now()

	var archivedAt *time.Time
	if to == objects.ClassStatusArchived {
		archivedAt = &now
	}

	n, err := d.exec(ctx,
		"UPDATE classes SET status = ?, archived_at = ?, updated_at = ? WHERE id = ? AND status = ? AND deleted_at IS NULL",
		to, archivedAt, now, id, from,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.InvalidTransition(string(from), string(to))
	}

	return nil
}

// AddClassTeacher reports whether the teacher was newly added.
func (d *DB) AddClassTeacher(ctx context.Context, classID, teacherID int64) (bool, error) {
	n, err := d.exec(ctx,
		"INSERT INTO class_teachers (class_id, teacher_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		classID, teacherID, d.now(),
	)

	return n > 0, err
}

// AddClassStudent reports whether the student was newly enrolled.
func (d *DB) AddClassStudent(ctx context.Context, classID, studentID int64) (bool, error) {
	n, err := d.exec(ctx,
		"INSERT INTO class_students (class_id, student_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		classID, studentID, d.now(),
	)

	return n > 0, err
}

func (d *DB) IsClassTeacher(ctx context.Context, classID, userID int64) (bool, error) {
	var one int
	return d.find(ctx, &one, "SELECT 1 FROM class_teachers WHERE class_id = ? AND teacher_id = ?", classID, userID)
}

func (d *DB) IsClassStudent(ctx context.Context, classID, userID int64) (bool, error) {
	var one int
	return d.find(ctx, &one, "SELECT 1 FROM class_students WHERE class_id = ? AND student_id = ?", classID, userID)
}

func (d *DB) ListClassStudents(ctx context.Context, classID int64) ([]int64, error) {
	var ids []int64

	err := d.selectAll(ctx, &ids, "SELECT student_id FROM class_students WHERE class_id = ? ORDER BY student_id", classID)

	return ids, err
}
