// Package audit writes and queries the append-only audit trail.
//
// The Recorder exposes Record and Query only. There is no update or delete
// path; storage rejects both with a trigger as well.
package audit

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/pkg/xjson"
	"github.com/looplj/classhub/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Config struct {
	DefaultPageSize int `conf:"default_page_size" yaml:"default_page_size" json:"default_page_size"`
	MaxPageSize     int `conf:"max_page_size" yaml:"max_page_size" json:"max_page_size"`
}

// Scope ties an entry to the class, team and project it concerns. Zero ids are stored as NULL.
type Scope struct {
	ClassID   int64
	TeamID    int64
	ProjectID int64
}

type Entry struct {
	// Action is a dotted verb such as project.review.approved.
	Action      string
	TargetTable string
	TargetID    int64
	Before      any
	After       any
	Scope       Scope
	// Notes are set on the after snapshot; keys are sjson paths.
	Notes map[string]any
}

type Recorder struct {
	db  *store.DB
	cfg Config
}

func NewRecorder(db *store.DB, cfg Config) *Recorder {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}

	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = MaxPageSize
	}

	if cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}

	return &Recorder{db: db, cfg: cfg}
}

// Record appends one entry. Called with a transaction in ctx, the entry
// commits or rolls back together with the change it describes. The actor is
// taken from ctx; an active repair is noted in the after snapshot.
func (r *Recorder) Record(ctx context.Context, e Entry) (*store.AuditLog, error) {
	before, err := xjson.Snapshot(e.Before)
	if err != nil {
		return nil, err
	}

	after, err := xjson.Snapshot(e.After)
	if err != nil {
		return nil, err
	}

	for _, path := range slices.Sorted(maps.Keys(e.Notes)) {
		after, err = xjson.Annotate(after, path, e.Notes[path])
		if err != nil {
			return nil, err
		}
	}

	if info, ok := authz.GetRepairInfo(ctx); ok {
		after, err = xjson.Annotate(after, "_repair.reason", info.Reason)
		if err != nil {
			return nil, err
		}

		after, err = xjson.Annotate(after, "_repair.principal", info.Principal.String())
		if err != nil {
			return nil, err
		}
	}

	l := &store.AuditLog{
		ActorID:     authz.AuditActorID(ctx),
		Action:      e.Action,
		TargetTable: e.TargetTable,
		TargetID:    nonZero(e.TargetID),
		BeforeJSON:  before,
		AfterJSON:   after,
		ClassID:     nonZero(e.Scope.ClassID),
		TeamID:      nonZero(e.Scope.TeamID),
		ProjectID:   nonZero(e.Scope.ProjectID),
	}

	if err := r.db.InsertAuditLog(ctx, l); err != nil {
		return nil, fmt.Errorf("record audit %s: %w", e.Action, err)
	}

	return l, nil
}

func nonZero(id int64) *int64 {
	if id == 0 {
		return nil
	}

	return &id
}

type Filter struct {
	ActorID   *int64     `json:"actorId,omitempty"`
	ClassID   *int64     `json:"classId,omitempty"`
	TeamID    *int64     `json:"teamId,omitempty"`
	ProjectID *int64     `json:"projectId,omitempty"`
	Action    string     `json:"action,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	BeforeID  int64      `json:"beforeId,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

type Page struct {
	Entries []store.AuditLog `json:"entries"`
	// NextBeforeID is the cursor for the next, older page; 0 when exhausted.
	NextBeforeID int64 `json:"nextBeforeId,omitempty"`
}

// Query returns matching entries newest first, at most one page.
func (r *Recorder) Query(ctx context.Context, f Filter) (*Page, error) {
	limit := r.pageSize(f.Limit)

	// Fetch one extra row to know whether an older page exists.
	logs, err := r.db.QueryAuditLogs(ctx, store.AuditFilter{
		ActorID:   f.ActorID,
		ClassID:   f.ClassID,
		TeamID:    f.TeamID,
		ProjectID: f.ProjectID,
		Action:    f.Action,
		From:      f.From,
		To:        f.To,
		BeforeID:  f.BeforeID,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}

	page := &Page{Entries: logs}

	if len(logs) > limit {
		page.Entries = logs[:limit]
		page.NextBeforeID = page.Entries[limit-1].ID
	}

	return page, nil
}

func (r *Recorder) pageSize(requested int) int {
	switch {
	case requested <= 0:
		return r.cfg.DefaultPageSize
	case requested > r.cfg.MaxPageSize:
		return r.cfg.MaxPageSize
	default:
		return requested
	}
}
