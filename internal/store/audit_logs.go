package store

import (
	"context"
	"strings"
	"time"
)

const auditColumns = "id, actor_id, action, target_table, target_id, before_json, after_json, class_id, team_id, project_id, created_at"

// InsertAuditLog is the only write path to audit_logs. Rows are never updated
// or deleted; storage triggers reject both.
func (d *DB) InsertAuditLog(ctx context.Context, l *AuditLog) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO audit_logs (actor_id, action, target_table, target_id, before_json, after_json, class_id, team_id, project_id, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		l.ActorID, l.Action, l.TargetTable, l.TargetID, l.BeforeJSON, l.AfterJSON, l.ClassID, l.TeamID, l.ProjectID, now,
	)
	if err != nil {
		return err
	}

	l.ID, l.CreatedAt = id, now

	return nil
}

type AuditFilter struct {
	ActorID   *int64
	ClassID   *int64
	TeamID    *int64
	ProjectID *int64
	// Action matches exactly, or by prefix when it ends with ".".
	Action string
	From   *time.Time
	To     *time.Time
	// BeforeID pages backwards: only rows with a smaller id are returned.
	BeforeID int64
	Limit    int
}

func (f AuditFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.ActorID != nil {
		add("actor_id = ?", *f.ActorID)
	}

	if f.ClassID != nil {
		add("class_id = ?", *f.ClassID)
	}

	if f.TeamID != nil {
		add("team_id = ?", *f.TeamID)
	}

	if f.ProjectID != nil {
		add("project_id = ?", *f.ProjectID)
	}

	switch {
	case strings.HasSuffix(f.Action, "."):
		add("action LIKE ?", f.Action+"%")
	case f.Action != "":
		add("action = ?", f.Action)
	}

	if f.From != nil {
		add("created_at >= ?", *f.From)
	}

	if f.To != nil {
		add("created_at < ?", *f.To)
	}

	if f.BeforeID > 0 {
		add("id < ?", f.BeforeID)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryAuditLogs returns matching rows newest first.
func (d *DB) QueryAuditLogs(ctx context.Context, f AuditFilter) ([]AuditLog, error) {
	where, args := f.where()

	var ls []AuditLog

	err := d.selectAll(ctx, &ls,
		"SELECT "+auditColumns+" FROM audit_logs"+where+" ORDER BY id DESC LIMIT ?",
		append(args, f.Limit)...,
	)

	return ls, err
}

func (d *DB) CountAuditLogs(ctx context.Context, f AuditFilter) (int64, error) {
	where, args := f.where()

	var n int64
	err := d.get(ctx, &n, "SELECT COUNT(*) FROM audit_logs"+where, args...)

	return n, err
}
