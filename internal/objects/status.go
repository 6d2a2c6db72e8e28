package objects

type ClassStatus string

const (
	ClassStatusActive   ClassStatus = "active"
	ClassStatusArchived ClassStatus = "archived"
)

func (s ClassStatus) Valid() bool {
	return s == ClassStatusActive || s == ClassStatusArchived
}

type TeamStatus string

const (
	TeamStatusRecruiting TeamStatus = "recruiting"
	TeamStatusLocked     TeamStatus = "locked"
)

type JoinRequestStatus string

const (
	JoinRequestPending   JoinRequestStatus = "pending"
	JoinRequestApproved  JoinRequestStatus = "approved"
	JoinRequestRejected  JoinRequestStatus = "rejected"
	JoinRequestCancelled JoinRequestStatus = "cancelled"
)

type ProjectStatus string

const (
	ProjectStatusDraft     ProjectStatus = "draft"
	ProjectStatusSubmitted ProjectStatus = "submitted"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusRejected  ProjectStatus = "rejected"
)

// Editable reports whether project content may still change.
func (s ProjectStatus) Editable() bool {
	return s == ProjectStatusDraft || s == ProjectStatusRejected
}

type ProjectSource string

const (
	ProjectSourceCaseLibrary ProjectSource = "case_library"
	ProjectSourceCustom      ProjectSource = "custom"
)

type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionRejected ReviewDecision = "rejected"
)

func (d ReviewDecision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

type WindowStatus string

const (
	WindowStatusDraft     WindowStatus = "draft"
	WindowStatusOpen      WindowStatus = "open"
	WindowStatusSealed    WindowStatus = "sealed"
	WindowStatusPublished WindowStatus = "published"
)

// Closed reports whether reviews in the window are final.
func (s WindowStatus) Closed() bool {
	return s == WindowStatusSealed || s == WindowStatusPublished
}

type AssignmentType string

const (
	AssignmentIndividual AssignmentType = "individual"
	AssignmentTeam       AssignmentType = "team"
)

func (t AssignmentType) Valid() bool {
	return t == AssignmentIndividual || t == AssignmentTeam
}
