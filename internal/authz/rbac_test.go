package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/looplj/classhub/internal/objects"
)

func TestAllowedByRole(t *testing.T) {
	tests := []struct {
		name     string
		role     objects.Role
		resource Resource
		action   Action
		want     bool
	}{
		{"admin anything", objects.RoleAdmin, ResourceStages, ActionRollback, true},
		{"admin manages admin", objects.RoleAdmin, ResourceAdmin, ActionManage, true},
		{"teacher cannot manage admin", objects.RoleTeacher, ResourceAdmin, ActionManage, false},
		{"student cannot manage admin", objects.RoleStudent, ResourceAdmin, ActionManage, false},
		{"teacher reviews projects", objects.RoleTeacher, ResourceProjects, ActionReview, true},
		{"student cannot review projects", objects.RoleStudent, ResourceProjects, ActionReview, false},
		{"student creates teams", objects.RoleStudent, ResourceTeams, ActionCreate, true},
		{"student cannot force teams", objects.RoleStudent, ResourceTeams, ActionForce, false},
		{"student cannot rollback", objects.RoleStudent, ResourceStages, ActionRollback, false},
		{"teacher reads audit", objects.RoleTeacher, ResourceAudit, ActionRead, true},
		{"student cannot read audit", objects.RoleStudent, ResourceAudit, ActionRead, false},
		{"unlisted action denied", objects.RoleTeacher, ResourceClasses, Action("delete"), false},
		{"unknown role denied", objects.Role("guest"), ResourceClasses, ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllowedByRole(tt.role, tt.resource, tt.action))
		})
	}
}

func TestMatrix(t *testing.T) {
	m := Matrix()

	assert.NotEmpty(t, m)
	assert.Equal(t, objects.RoleTeacher, m[0].Role)
	assert.Equal(t, ResourceAssignments, m[0].Resource)

	for _, p := range m {
		if p.Resource == ResourceAdmin {
			assert.NotContains(t, p.Actions, ActionManage)
		}
	}
}
