package objects

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role governs classes rather than participating in them.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleTeacher
}
