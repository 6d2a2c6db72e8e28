package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/looplj/classhub/internal/objects"
)

type User struct {
	ID          int64        `db:"id" json:"id"`
	Username    string       `db:"username" json:"username"`
	DisplayName string       `db:"display_name" json:"displayName"`
	Role        objects.Role `db:"role" json:"role"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
	DeletedAt   *time.Time   `db:"deleted_at" json:"deletedAt,omitempty"`
}

type Class struct {
	ID                                int64               `db:"id" json:"id"`
	Name                              string              `db:"name" json:"name"`
	Term                              string              `db:"term" json:"term"`
	Status                            objects.ClassStatus `db:"status" json:"status"`
	ConfigJSON                        string              `db:"config_json" json:"config"`
	AllowStudentDownloadAfterArchived bool                `db:"allow_student_download_after_archived" json:"allowStudentDownloadAfterArchived"`
	CreatedBy                         int64               `db:"created_by" json:"createdBy"`
	ArchivedAt                        *time.Time          `db:"archived_at" json:"archivedAt,omitempty"`
	CreatedAt                         time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt                         time.Time           `db:"updated_at" json:"updatedAt"`
	DeletedAt                         *time.Time          `db:"deleted_at" json:"deletedAt,omitempty"`
}

func (c *Class) Archived() bool {
	return c.Status == objects.ClassStatusArchived
}

type Team struct {
	ID          int64              `db:"id" json:"id"`
	ClassID     int64              `db:"class_id" json:"classId"`
	Name        string             `db:"name" json:"name"`
	Description *string            `db:"description" json:"description,omitempty"`
	LeaderID    int64              `db:"leader_id" json:"leaderId"`
	Status      objects.TeamStatus `db:"status" json:"status"`
	IsLocked    bool               `db:"is_locked" json:"isLocked"`
	LockedAt    *time.Time         `db:"locked_at" json:"lockedAt,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updatedAt"`
	DeletedAt   *time.Time         `db:"deleted_at" json:"deletedAt,omitempty"`
}

type TeamMember struct {
	ID        int64      `db:"id" json:"id"`
	TeamID    int64      `db:"team_id" json:"teamId"`
	ClassID   int64      `db:"class_id" json:"classId"`
	StudentID int64      `db:"student_id" json:"studentId"`
	IsActive  bool       `db:"is_active" json:"isActive"`
	JoinedAt  time.Time  `db:"joined_at" json:"joinedAt"`
	LeftAt    *time.Time `db:"left_at" json:"leftAt,omitempty"`
}

type TeamJoinRequest struct {
	ID        int64                     `db:"id" json:"id"`
	TeamID    int64                     `db:"team_id" json:"teamId"`
	ClassID   int64                     `db:"class_id" json:"classId"`
	StudentID int64                     `db:"student_id" json:"studentId"`
	Status    objects.JoinRequestStatus `db:"status" json:"status"`
	Message   *string                   `db:"message" json:"message,omitempty"`
	DecidedBy *int64                    `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedAt *time.Time                `db:"decided_at" json:"decidedAt,omitempty"`
	CreatedAt time.Time                 `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time                 `db:"updated_at" json:"updatedAt"`
}

type Project struct {
	ID          int64                 `db:"id" json:"id"`
	TeamID      int64                 `db:"team_id" json:"teamId"`
	ClassID     int64                 `db:"class_id" json:"classId"`
	Name        string                `db:"name" json:"name"`
	Background  *string               `db:"background" json:"background,omitempty"`
	TechStack   *string               `db:"tech_stack" json:"techStack,omitempty"`
	SourceType  objects.ProjectSource `db:"source_type" json:"sourceType"`
	CaseID      *int64                `db:"case_id" json:"caseId,omitempty"`
	Status      objects.ProjectStatus `db:"status" json:"status"`
	Feedback    *string               `db:"feedback" json:"reviewFeedback,omitempty"`
	SubmittedAt *time.Time            `db:"submitted_at" json:"submittedAt,omitempty"`
	ReviewedBy  *int64                `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time            `db:"reviewed_at" json:"reviewedAt,omitempty"`
	CreatedAt   time.Time             `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time             `db:"updated_at" json:"updatedAt"`
	DeletedAt   *time.Time            `db:"deleted_at" json:"deletedAt,omitempty"`
}

type ProjectStage struct {
	ID        int64               `db:"id" json:"id"`
	ProjectID int64               `db:"project_id" json:"projectId"`
	Key       objects.StageKey    `db:"stage_key" json:"key"`
	Order     int                 `db:"stage_order" json:"order"`
	Status    objects.StageStatus `db:"status" json:"status"`
	UpdatedBy *int64              `db:"updated_by" json:"updatedBy,omitempty"`
	CreatedAt time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time           `db:"updated_at" json:"updatedAt"`
}

// StageVector projects ordered stage rows onto a status vector.
func StageVector(stages []ProjectStage) objects.StageVector {
	var v objects.StageVector

	for i := range v {
		v[i] = objects.StageStatusLocked
	}

	for _, s := range stages {
		if s.Order >= 1 && s.Order <= objects.StageCount {
			v[s.Order-1] = s.Status
		}
	}

	return v
}

type Assignment struct {
	ID          int64                  `db:"id" json:"id"`
	ClassID     int64                  `db:"class_id" json:"classId"`
	Title       string                 `db:"title" json:"title"`
	Description *string                `db:"description" json:"description,omitempty"`
	StageKey    objects.StageKey       `db:"stage_key" json:"stageKey"`
	Type        objects.AssignmentType `db:"type" json:"type"`
	Deadline    time.Time              `db:"deadline" json:"deadline"`
	CreatedBy   int64                  `db:"created_by" json:"createdBy"`
	CreatedAt   time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updatedAt"`
	DeletedAt   *time.Time             `db:"deleted_at" json:"deletedAt,omitempty"`
}

type File struct {
	ID           int64     `db:"id" json:"id"`
	ClassID      int64     `db:"class_id" json:"classId"`
	UploadedBy   int64     `db:"uploaded_by" json:"uploadedBy"`
	StoragePath  string    `db:"storage_path" json:"-"`
	OriginalName string    `db:"original_name" json:"originalName"`
	Mime         string    `db:"mime" json:"mime"`
	Size         int64     `db:"size" json:"size"`
	SHA256       string    `db:"sha256" json:"sha256"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type Submission struct {
	ID           int64     `db:"id" json:"id"`
	AssignmentID int64     `db:"assignment_id" json:"assignmentId"`
	StageID      int64     `db:"stage_id" json:"stageId"`
	ClassID      int64     `db:"class_id" json:"classId"`
	ProjectID    int64     `db:"project_id" json:"projectId"`
	TeamID       *int64    `db:"team_id" json:"teamId,omitempty"`
	SubmitterID  int64     `db:"submitter_id" json:"submitterId"`
	Version      int       `db:"version" json:"version"`
	IsLate       bool      `db:"is_late" json:"isLate"`
	Note         *string   `db:"note" json:"note,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type Grade struct {
	SubmissionID int64           `db:"submission_id" json:"submissionId"`
	ClassID      int64           `db:"class_id" json:"classId"`
	GraderID     int64           `db:"grader_id" json:"graderId"`
	Score        decimal.Decimal `db:"score" json:"score"`
	Feedback     *string         `db:"feedback" json:"feedback,omitempty"`
	GradedAt     time.Time       `db:"graded_at" json:"gradedAt"`
}

type PeerReviewWindow struct {
	ID          int64                `db:"id" json:"id"`
	ClassID     int64                `db:"class_id" json:"classId"`
	StageKey    objects.StageKey     `db:"stage_key" json:"stageKey"`
	Status      objects.WindowStatus `db:"status" json:"status"`
	CreatedBy   int64                `db:"created_by" json:"createdBy"`
	OpenedAt    *time.Time           `db:"opened_at" json:"openedAt,omitempty"`
	SealedAt    *time.Time           `db:"sealed_at" json:"sealedAt,omitempty"`
	PublishedAt *time.Time           `db:"published_at" json:"publishedAt,omitempty"`
	CreatedAt   time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time            `db:"updated_at" json:"updatedAt"`
}

type PeerReview struct {
	ID          int64     `db:"id" json:"id"`
	WindowID    int64     `db:"window_id" json:"windowId"`
	ClassID     int64     `db:"class_id" json:"classId"`
	TeamID      int64     `db:"team_id" json:"teamId"`
	ProjectID   int64     `db:"project_id" json:"projectId"`
	ReviewerID  int64     `db:"reviewer_id" json:"reviewerId"`
	RevieweeID  int64     `db:"reviewee_id" json:"revieweeId"`
	PayloadJSON string    `db:"payload_json" json:"payload"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type PeerReviewAdoption struct {
	ID                int64               `db:"id" json:"id"`
	WindowID          int64               `db:"window_id" json:"windowId"`
	TeamID            int64               `db:"team_id" json:"teamId"`
	Adopted           bool                `db:"adopted" json:"adopted"`
	ForcedCoefficient decimal.NullDecimal `db:"forced_coefficient" json:"forcedCoefficient"`
	Reason            *string             `db:"reason" json:"reason,omitempty"`
	DecidedBy         int64               `db:"decided_by" json:"decidedBy"`
	DecidedAt         time.Time           `db:"decided_at" json:"decidedAt"`
}

type PeerReviewCoefficient struct {
	ID          int64           `db:"id" json:"id"`
	WindowID    int64           `db:"window_id" json:"windowId"`
	TeamID      int64           `db:"team_id" json:"teamId"`
	UserID      int64           `db:"user_id" json:"userId"`
	Coefficient decimal.Decimal `db:"coefficient" json:"coefficient"`
	ComputedAt  time.Time       `db:"computed_at" json:"computedAt"`
}

type Notification struct {
	ID          int64      `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"userId"`
	Type        string     `db:"type" json:"type"`
	Title       string     `db:"title" json:"title"`
	Body        *string    `db:"body" json:"body,omitempty"`
	PayloadJSON string     `db:"payload_json" json:"payload"`
	ReadAt      *time.Time `db:"read_at" json:"readAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

type AuditLog struct {
	ID          int64     `db:"id" json:"id"`
	ActorID     *int64    `db:"actor_id" json:"actorId,omitempty"`
	Action      string    `db:"action" json:"action"`
	TargetTable string    `db:"target_table" json:"targetTable"`
	TargetID    *int64    `db:"target_id" json:"targetId,omitempty"`
	BeforeJSON  *string   `db:"before_json" json:"before,omitempty"`
	AfterJSON   *string   `db:"after_json" json:"after,omitempty"`
	ClassID     *int64    `db:"class_id" json:"classId,omitempty"`
	TeamID      *int64    `db:"team_id" json:"teamId,omitempty"`
	ProjectID   *int64    `db:"project_id" json:"projectId,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
