package authz

import (
	"slices"

	"github.com/samber/lo"

	"github.com/looplj/classhub/internal/objects"
)

type Resource string

const (
	ResourceAdmin         Resource = "admin"
	ResourceClasses       Resource = "classes"
	ResourceTeams         Resource = "teams"
	ResourceProjects      Resource = "projects"
	ResourceStages        Resource = "stages"
	ResourcePeerReviews   Resource = "peer_reviews"
	ResourceAssignments   Resource = "assignments"
	ResourceSubmissions   Resource = "submissions"
	ResourceGrades        Resource = "grades"
	ResourceFiles         Resource = "files"
	ResourceAudit         Resource = "audit"
	ResourceUsers         Resource = "users"
	ResourceNotifications Resource = "notifications"
)

type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionManage   Action = "manage"
	ActionJoin     Action = "join"
	ActionLeave    Action = "leave"
	ActionForce    Action = "force"
	ActionSubmit   Action = "submit"
	ActionReview   Action = "review"
	ActionRollback Action = "rollback"
	ActionDecide   Action = "decide"
	ActionArchive  Action = "archive"
	ActionEnroll   Action = "enroll"
)

type permissions map[Resource][]Action

// roleTable is the allow-list per non-admin role.
var roleTable = map[objects.Role]permissions{
	objects.RoleTeacher: {
		ResourceClasses:       {ActionRead, ActionCreate, ActionUpdate, ActionArchive, ActionEnroll},
		ResourceTeams:         {ActionRead, ActionUpdate, ActionForce},
		ResourceProjects:      {ActionRead, ActionSubmit, ActionReview},
		ResourceStages:        {ActionRead, ActionUpdate, ActionRollback},
		ResourcePeerReviews:   {ActionRead, ActionManage, ActionDecide},
		ResourceAssignments:   {ActionRead, ActionCreate},
		ResourceSubmissions:   {ActionRead},
		ResourceGrades:        {ActionRead, ActionCreate},
		ResourceFiles:         {ActionRead},
		ResourceAudit:         {ActionRead},
		ResourceUsers:         {ActionRead},
		ResourceNotifications: {ActionRead},
	},
	objects.RoleStudent: {
		ResourceClasses:       {ActionRead},
		ResourceTeams:         {ActionRead, ActionCreate, ActionUpdate, ActionJoin, ActionLeave},
		ResourceProjects:      {ActionRead, ActionCreate, ActionUpdate, ActionSubmit},
		ResourceStages:        {ActionRead, ActionUpdate},
		ResourcePeerReviews:   {ActionRead, ActionSubmit},
		ResourceAssignments:   {ActionRead},
		ResourceSubmissions:   {ActionRead, ActionCreate},
		ResourceGrades:        {ActionRead},
		ResourceFiles:         {ActionRead},
		ResourceNotifications: {ActionRead},
	},
}

// AllowedByRole is the RBAC decision.
func AllowedByRole(role objects.Role, resource Resource, action Action) bool {
	if role == objects.RoleAdmin {
		return true
	}

	// Managing the admin resource is admin only, whatever the tables say.
	if resource == ResourceAdmin && action == ActionManage {
		return false
	}

	perms, ok := roleTable[role]
	if !ok {
		return false
	}

	return slices.Contains(perms[resource], action)
}

// Permission is one row of the role table.
type Permission struct {
	Role     objects.Role `json:"role"`
	Resource Resource     `json:"resource"`
	Actions  []Action     `json:"actions"`
}

// Matrix lists the non-admin role table, sorted by role and resource.
func Matrix() []Permission {
	var out []Permission

	for _, role := range []objects.Role{objects.RoleTeacher, objects.RoleStudent} {
		perms := roleTable[role]

		resources := lo.Keys(perms)
		slices.Sort(resources)

		for _, r := range resources {
			out = append(out, Permission{Role: role, Resource: r, Actions: slices.Clone(perms[r])})
		}
	}

	return out
}
