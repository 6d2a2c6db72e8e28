package store

import (
	"context"
)

const submissionColumns = "id, assignment_id, stage_id, class_id, project_id, team_id, submitter_id, version, is_late, note, created_at"

// SubmissionIdentity is the logical key a submission version counts under.
type SubmissionIdentity struct {
	AssignmentID int64
	StageID      int64
	ProjectID    int64
	TeamID       *int64
	SubmitterID  int64
}

// MaxSubmissionVersion returns the highest version for the identity, 0 when none exists.
func (d *DB) MaxSubmissionVersion(ctx context.Context, id SubmissionIdentity) (int, error) {
	var v int

	err := d.get(ctx, &v,
		"SELECT COALESCE(MAX(version), 0) FROM submissions "+
			"WHERE assignment_id = ? AND stage_id = ? AND project_id = ? AND COALESCE(team_id, 0) = ? AND submitter_id = ?",
		id.AssignmentID, id.StageID, id.ProjectID, teamKey(id.TeamID), id.SubmitterID,
	)

	return v, err
}

func teamKey(teamID *int64) int64 {
	if teamID == nil {
		return 0
	}

	return *teamID
}

// CreateSubmission inserts a new version. Two writers racing on the same
// version trip the unique index and the loser gets Conflict.
func (d *DB) CreateSubmission(ctx context.Context, s *Submission) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO submissions (assignment_id, stage_id, class_id, project_id, team_id, submitter_id, version, is_late, note, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.AssignmentID, s.StageID, s.ClassID, s.ProjectID, s.TeamID, s.SubmitterID, s.Version, s.IsLate, s.Note, now,
	)
	if err != nil {
		return err
	}

	s.ID, s.CreatedAt = id, now

	return nil
}

func (d *DB) GetSubmission(ctx context.Context, id int64) (*Submission, error) {
	var s Submission

	err := d.get(ctx, &s, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "submission %d not found", id)
	}

	return &s, nil
}

func (d *DB) ListSubmissions(ctx context.Context, assignmentID, projectID int64) ([]Submission, error) {
	var ss []Submission

	err := d.selectAll(ctx, &ss,
		"SELECT "+submissionColumns+" FROM submissions WHERE assignment_id = ? AND project_id = ? ORDER BY id",
		assignmentID, projectID,
	)

	return ss, err
}
