package biz

import (
	"context"

	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/pkg/xvalidator"
	"github.com/looplj/classhub/internal/store"
)

type CreateClassInput struct {
	Name string `json:"name" validate:"required,max=128"`
	Term string `json:"term" validate:"max=64"`
	// Config defaults to team sizes 1..99 when left zero.
	Config                            objects.ClassConfig `json:"config"`
	AllowStudentDownloadAfterArchived bool                `json:"allowStudentDownloadAfterArchived"`
}

type UpdateClassSettingsInput struct {
	Config                            *objects.ClassConfig `json:"config"`
	AllowStudentDownloadAfterArchived *bool                `json:"allowStudentDownloadAfterArchived"`
}

type ClassServiceParams struct {
	fx.In

	AbstractService *AbstractService
}

type ClassService struct {
	*AbstractService
}

func NewClassService(params ClassServiceParams) *ClassService {
	return &ClassService{AbstractService: params.AbstractService}
}

func normalizeConfig(cfg objects.ClassConfig) (objects.ClassConfig, error) {
	if cfg.TeamSizeMin == 0 {
		cfg.TeamSizeMin = objects.DefaultTeamSizeMin
	}

	if cfg.TeamSizeMax == 0 {
		cfg.TeamSizeMax = objects.DefaultTeamSizeMax
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errs.ValidationFields(errs.FieldError{Field: "config", Error: err.Error()})
	}

	return cfg, nil
}

// CreateClass creates an active class. A teacher creating it becomes one of its teachers.
func (s *ClassService) CreateClass(ctx context.Context, input CreateClassInput) (*store.Class, error) {
	return govern(ctx, s.AbstractService, "class.create", func(ctx context.Context, u *unit) (*store.Class, error) {
		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceClasses,
			Action:   authz.ActionCreate,
		}); err != nil {
			return nil, err
		}

		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		by := actorRef(ctx)
		if by == nil {
			return nil, errs.Validation("classes are created by a user")
		}

		cfg, err := normalizeConfig(input.Config)
		if err != nil {
			return nil, err
		}

		class := &store.Class{
			Name:                              input.Name,
			Term:                              input.Term,
			ConfigJSON:                        cfg.JSON(),
			AllowStudentDownloadAfterArchived: input.AllowStudentDownloadAfterArchived,
			CreatedBy:                         *by,
		}
		if err := s.db.CreateClass(ctx, class); err != nil {
			return nil, err
		}

		if u.actor.Role == objects.RoleTeacher {
			if _, err := s.db.AddClassTeacher(ctx, class.ID, u.actor.ID); err != nil {
				return nil, err
			}
		}

		return class, s.record(ctx, audit.Entry{
			Action:      "class.create",
			TargetTable: "classes",
			TargetID:    class.ID,
			After:       class,
			Scope:       audit.Scope{ClassID: class.ID},
		})
	})
}

func (s *ClassService) UpdateClassSettings(ctx context.Context, classID int64, input UpdateClassSettingsInput) (*store.Class, error) {
	return govern(ctx, s.AbstractService, "class.settings", func(ctx context.Context, u *unit) (*store.Class, error) {
		class, err := s.loadClass(ctx, classID)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceClasses,
			Action:   authz.ActionUpdate,
			ClassID:  class.ID,
			Attrs:    scopeAttrs(class, nil, nil),
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if err := assertClassWritable(ctx, class); err != nil {
			return nil, err
		}

		cfg, err := objects.ParseClassConfig(class.ConfigJSON)
		if err != nil {
			return nil, err
		}

		if input.Config != nil {
			next := *input.Config
			if next.Extra == nil {
				next.Extra = cfg.Extra
			}

			cfg, err = normalizeConfig(next)
			if err != nil {
				return nil, err
			}
		}

		allow := class.AllowStudentDownloadAfterArchived
		if input.AllowStudentDownloadAfterArchived != nil {
			allow = *input.AllowStudentDownloadAfterArchived
		}

		if err := s.db.UpdateClassSettings(ctx, class.ID, cfg.JSON(), allow); err != nil {
			return nil, err
		}

		updated, err := s.db.GetClass(ctx, class.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		return updated, s.record(ctx, audit.Entry{
			Action:      "class.settings",
			TargetTable: "classes",
			TargetID:    class.ID,
			Before:      class,
			After:       updated,
			Scope:       audit.Scope{ClassID: class.ID},
		})
	})
}

// SetClassStatus archives or reactivates a class. It is the one class-scoped
// write the archive guard does not apply to.
func (s *ClassService) SetClassStatus(ctx context.Context, classID int64, status objects.ClassStatus) (*store.Class, error) {
	return govern(ctx, s.AbstractService, "class.status", func(ctx context.Context, u *unit) (*store.Class, error) {
		if !status.Valid() {
			return nil, errs.Validation("unknown class status %q", status)
		}

		class, err := s.db.GetClass(ctx, classID, store.LockUpdate)
		if err != nil {
			return nil, err
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceClasses,
			Action:   authz.ActionArchive,
			ClassID:  class.ID,
			Attrs:    scopeAttrs(class, nil, nil),
		}); err != nil {
			return nil, err
		}

		if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
			return nil, err
		}

		if class.Status == status {
			return nil, errs.InvalidTransition(string(class.Status), string(status))
		}

		if err := s.db.SetClassStatus(ctx, class.ID, class.Status, status); err != nil {
			return nil, err
		}

		updated, err := s.db.GetClass(ctx, class.ID, store.LockNone)
		if err != nil {
			return nil, err
		}

		return updated, s.record(ctx, audit.Entry{
			Action:      "class.status",
			TargetTable: "classes",
			TargetID:    class.ID,
			Before:      class,
			After:       updated,
			Scope:       audit.Scope{ClassID: class.ID},
		})
	})
}

// EnrollStudent adds a student to the class roster. Enrolling twice is a Conflict.
func (s *ClassService) EnrollStudent(ctx context.Context, classID, studentID int64) error {
	_, err := govern(ctx, s.AbstractService, "class.student.add", func(ctx context.Context, u *unit) (struct{}, error) {
		return struct{}{}, s.addMember(ctx, u, classID, studentID, objects.RoleStudent)
	})

	return err
}

// AddTeacher assigns a teacher to the class.
func (s *ClassService) AddTeacher(ctx context.Context, classID, teacherID int64) error {
	_, err := govern(ctx, s.AbstractService, "class.teacher.add", func(ctx context.Context, u *unit) (struct{}, error) {
		return struct{}{}, s.addMember(ctx, u, classID, teacherID, objects.RoleTeacher)
	})

	return err
}

func (s *ClassService) addMember(ctx context.Context, u *unit, classID, userID int64, role objects.Role) error {
	class, err := s.loadClass(ctx, classID)
	if err != nil {
		return err
	}

	if err := s.authorize(ctx, u.actor, authz.Request{
		Resource: authz.ResourceClasses,
		Action:   authz.ActionEnroll,
		ClassID:  class.ID,
		Attrs:    scopeAttrs(class, nil, nil),
	}); err != nil {
		return err
	}

	if err := s.requireClassStaff(ctx, u.actor, class.ID); err != nil {
		return err
	}

	if err := assertClassWritable(ctx, class); err != nil {
		return err
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.Role != role {
		return errs.Validation("user %d is a %s, not a %s", user.ID, user.Role, role)
	}

	var (
		added  bool
		action string
		table  string
	)

	switch role {
	case objects.RoleTeacher:
		added, err = s.db.AddClassTeacher(ctx, class.ID, user.ID)
		action, table = "class.teacher.add", "class_teachers"
	default:
		added, err = s.db.AddClassStudent(ctx, class.ID, user.ID)
		action, table = "class.student.add", "class_students"
	}

	if err != nil {
		return err
	}

	if !added {
		return errs.Conflict("user %d is already in class %d", user.ID, class.ID)
	}

	return s.record(ctx, audit.Entry{
		Action:      action,
		TargetTable: table,
		TargetID:    user.ID,
		After:       map[string]any{"classId": class.ID, "userId": user.ID},
		Scope:       audit.Scope{ClassID: class.ID},
	})
}
