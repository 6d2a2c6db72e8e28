package store

import (
	"context"
)

// UpsertGrade keeps one grade per submission; regrading overwrites it.
func (d *DB) UpsertGrade(ctx context.Context, g *Grade) error {
	now := d.now()

	_, err := d.exec(ctx,
		"INSERT INTO grades (submission_id, class_id, grader_id, score, feedback, graded_at) VALUES (?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT (submission_id) DO UPDATE SET grader_id = excluded.grader_id, score = excluded.score, "+
			"feedback = excluded.feedback, graded_at = excluded.graded_at",
		g.SubmissionID, g.ClassID, g.GraderID, g.Score, g.Feedback, now,
	)
	if err != nil {
		return err
	}

	g.GradedAt = now

	return nil
}

func (d *DB) FindGrade(ctx context.Context, submissionID int64) (*Grade, bool, error) {
	var g Grade

	ok, err := d.find(ctx, &g,
		"SELECT submission_id, class_id, grader_id, score, feedback, graded_at FROM grades WHERE submission_id = ?",
		submissionID,
	)
	if !ok || err != nil {
		return nil, false, err
	}

	return &g, true, nil
}
