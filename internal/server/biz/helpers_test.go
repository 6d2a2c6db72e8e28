package biz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/blob"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/pkg/xcache"
	"github.com/looplj/classhub/internal/pkg/xtime"
	"github.com/looplj/classhub/internal/store"
	"github.com/looplj/classhub/internal/store/storetest"
)

type sent struct {
	msg  notify.Message
	inTx bool
}

// captureSink keeps every delivered message and whether it arrived inside a transaction.
type captureSink struct {
	mu   sync.Mutex
	sent []sent
}

func (c *captureSink) Send(ctx context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, sent{msg: msg, inTx: store.InTx(ctx)})

	return nil
}

func (c *captureSink) all() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]sent(nil), c.sent...)
}

func (c *captureSink) ofType(typ string) []notify.Message {
	var out []notify.Message

	for _, s := range c.all() {
		if s.msg.Type == typ {
			out = append(out, s.msg)
		}
	}

	return out
}

type harness struct {
	t     *testing.T
	db    *store.DB
	clock *xtime.FakeClock
	sink  *captureSink

	registry *authz.Registry

	classes     *ClassService
	teams       *TeamService
	projects    *ProjectService
	reviews     *PeerReviewService
	assignments *AssignmentService
	users       *UserService
	admin       *AdminService

	adminUser *store.User
	teacher   *store.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := xtime.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	db := storetest.New(t).WithClock(clock)
	sink := &captureSink{}
	registry := authz.NewRegistry()

	dispatcher := notify.NewDispatcher(sink, notify.Config{})
	t.Cleanup(func() {
		_ = dispatcher.Close(context.Background())
	})

	abstract := NewAbstractService(AbstractServiceParams{
		DB:         db,
		Authorizer: authz.NewAuthorizer(registry),
		Recorder:   audit.NewRecorder(db, audit.Config{}),
		Dispatcher: dispatcher,
		Clock:      clock,
	})

	users, err := NewUserService(UserServiceParams{
		AbstractService: abstract,
		CacheConfig:     xcache.Config{Mode: xcache.ModeMemory},
	})
	require.NoError(t, err)

	h := &harness{
		t:           t,
		db:          db,
		clock:       clock,
		sink:        sink,
		registry:    registry,
		classes:     NewClassService(ClassServiceParams{AbstractService: abstract}),
		teams:       NewTeamService(TeamServiceParams{AbstractService: abstract}),
		projects:    NewProjectService(ProjectServiceParams{AbstractService: abstract}),
		reviews:     NewPeerReviewService(PeerReviewServiceParams{AbstractService: abstract}),
		assignments: NewAssignmentService(AssignmentServiceParams{AbstractService: abstract, Blob: blob.NewWithFs(afero.NewMemMapFs(), 0).WithClock(clock)}),
		users:       users,
		admin:       NewAdminService(AdminServiceParams{AbstractService: abstract}),
	}

	h.adminUser = h.user("root", objects.RoleAdmin)
	h.teacher = h.user("teacher", objects.RoleTeacher)

	return h
}

func (h *harness) user(name string, role objects.Role) *store.User {
	h.t.Helper()

	u := &store.User{Username: name, Role: role}
	require.NoError(h.t, h.db.CreateUser(context.Background(), u))

	return u
}

func (h *harness) as(u *store.User) context.Context {
	return authz.NewUserContext(context.Background(), authz.Actor{ID: u.ID, Role: u.Role})
}

// class creates a class taught by h.teacher with the given students enrolled.
func (h *harness) class(students ...*store.User) *store.Class {
	h.t.Helper()

	ctx := h.as(h.teacher)

	class, err := h.classes.CreateClass(ctx, CreateClassInput{Name: "Capstone", Term: "2026S"})
	require.NoError(h.t, err)

	for _, s := range students {
		require.NoError(h.t, h.classes.EnrollStudent(ctx, class.ID, s.ID))
	}

	return class
}

func (h *harness) students(n int) []*store.User {
	h.t.Helper()

	out := make([]*store.User, n)
	for i := range out {
		out[i] = h.user(fmt.Sprintf("student%d", i+1), objects.RoleStudent)
	}

	return out
}

// team creates a team led by leader and brings the other students in through approved join requests.
func (h *harness) team(class *store.Class, leader *store.User, members ...*store.User) *store.Team {
	h.t.Helper()

	team, err := h.teams.CreateTeam(h.as(leader), class.ID, CreateTeamInput{Name: leader.Username + "'s team"})
	require.NoError(h.t, err)

	for _, m := range members {
		req, err := h.teams.RequestJoin(h.as(m), team.ID, nil)
		require.NoError(h.t, err)

		_, err = h.teams.DecideJoin(h.as(leader), team.ID, req.ID, objects.DecisionApproved)
		require.NoError(h.t, err)
	}

	return team
}

// activeProject creates, submits and approves a project for team.
func (h *harness) activeProject(team *store.Team, leader *store.User) *store.Project {
	h.t.Helper()

	project, err := h.projects.CreateProject(h.as(leader), team.ID, ProjectInput{
		Name:       "Library system",
		SourceType: objects.ProjectSourceCustom,
	})
	require.NoError(h.t, err)

	_, err = h.projects.SubmitProject(h.as(leader), project.ID)
	require.NoError(h.t, err)

	result, err := h.projects.ReviewProject(h.as(h.teacher), project.ID, objects.DecisionApproved, nil)
	require.NoError(h.t, err)

	return result.Project
}

func (h *harness) actions(filter audit.Filter) []string {
	h.t.Helper()

	filter.Limit = audit.MaxPageSize

	page, err := h.admin.QueryAudit(h.as(h.adminUser), filter)
	require.NoError(h.t, err)

	out := make([]string, 0, len(page.Entries))
	for _, e := range page.Entries {
		out = append(out, e.Action)
	}

	return out
}

func vector(statuses ...objects.StageStatus) objects.StageVector {
	var v objects.StageVector
	copy(v[:], statuses)

	return v
}

const (
	locked = objects.StageStatusLocked
	open   = objects.StageStatusOpen
	passed = objects.StageStatusPassed
)
