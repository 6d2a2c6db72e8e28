package biz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/singleflight"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/pkg/watcher"
	"github.com/looplj/classhub/internal/pkg/xcache"
	"github.com/looplj/classhub/internal/pkg/xvalidator"
	"github.com/looplj/classhub/internal/store"
)

const userInvalidationChannel = "classhub:user:invalidate"

type CreateUserInput struct {
	Username    string       `json:"username" validate:"required,max=64"`
	DisplayName string       `json:"displayName" validate:"max=128"`
	Role        objects.Role `json:"role" validate:"required,oneof=admin teacher student"`
}

type UserServiceParams struct {
	fx.In

	AbstractService *AbstractService
	CacheConfig     xcache.Config
	Redis           *redis.Client `optional:"true"`
}

// UserService resolves actors for incoming requests and manages accounts.
// Role changes invalidate the actor cache of every process sharing redis.
type UserService struct {
	*AbstractService

	UserCache     xcache.Cache[store.User]
	group         singleflight.Group
	invalidations watcher.Notifier[int64]
	stopWatch     func()
}

func NewUserService(params UserServiceParams) (*UserService, error) {
	cache, err := xcache.NewFromConfig[store.User](params.CacheConfig, params.Redis)
	if err != nil {
		return nil, fmt.Errorf("build user cache: %w", err)
	}

	invalidations, err := watcher.New[int64](params.Redis, userInvalidationChannel, 64)
	if err != nil {
		return nil, fmt.Errorf("build user watcher: %w", err)
	}

	return &UserService{
		AbstractService: params.AbstractService,
		UserCache:       cache,
		invalidations:   invalidations,
	}, nil
}

func buildUserCacheKey(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}

// Resolve returns the actor for a user id. Unknown or deleted users are NotFound.
func (s *UserService) Resolve(ctx context.Context, userID int64) (authz.Actor, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return authz.Actor{}, err
	}

	return authz.Actor{ID: user.ID, Role: user.Role}, nil
}

// GetUserByID gets a user by ID with caching. Concurrent misses for the same
// user share one query.
func (s *UserService) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	cacheKey := buildUserCacheKey(id)
	if user, err := s.UserCache.Get(ctx, cacheKey); err == nil {
		return &user, nil
	}

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		user, err := s.db.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := s.UserCache.Set(ctx, cacheKey, *user); err != nil {
			log.Warn(ctx, "failed to cache user", log.Int64("user_id", id), log.Cause(err))
		}

		return user, nil
	})
	if err != nil {
		return nil, err
	}

	user, ok := v.(*store.User)
	if !ok {
		return nil, fmt.Errorf("singleflight returned unexpected type %T", v)
	}

	return user, nil
}

func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*store.User, error) {
	return govern(ctx, s.AbstractService, "admin.user.create", func(ctx context.Context, u *unit) (*store.User, error) {
		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceUsers,
			Action:   authz.ActionCreate,
			Attrs:    map[string]any{"role": string(input.Role)},
		}); err != nil {
			return nil, err
		}

		if err := xvalidator.Struct(input); err != nil {
			return nil, err
		}

		user := &store.User{
			Username:    input.Username,
			DisplayName: input.DisplayName,
			Role:        input.Role,
		}
		if err := s.db.CreateUser(ctx, user); err != nil {
			return nil, err
		}

		return user, s.record(ctx, audit.Entry{
			Action:      "admin.user.create",
			TargetTable: "users",
			TargetID:    user.ID,
			After:       user,
		})
	})
}

// SetUserRole changes a user's global role. Only admins may do this.
func (s *UserService) SetUserRole(ctx context.Context, userID int64, role objects.Role) (*store.User, error) {
	user, err := govern(ctx, s.AbstractService, "admin.user.role", func(ctx context.Context, u *unit) (*store.User, error) {
		if !role.Valid() {
			return nil, errs.Validation("unknown role %q", role)
		}

		if err := s.authorize(ctx, u.actor, authz.Request{
			Resource: authz.ResourceAdmin,
			Action:   authz.ActionManage,
			Attrs:    map[string]any{"role": string(role), "targetUserId": userID},
		}); err != nil {
			return nil, err
		}

		before, err := s.db.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		if before.Role == role {
			return nil, errs.InvalidTransition(string(before.Role), string(role))
		}

		if err := s.db.UpdateUserRole(ctx, userID, role); err != nil {
			return nil, err
		}

		after, err := s.db.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		return after, s.record(ctx, audit.Entry{
			Action:      "admin.user.role",
			TargetTable: "users",
			TargetID:    userID,
			Before:      before,
			After:       after,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateUserCache(ctx, userID)

	if err := s.invalidations.Notify(ctx, userID); err != nil {
		log.Warn(ctx, "failed to broadcast user invalidation", log.Int64("user_id", userID), log.Cause(err))
	}

	return user, nil
}

// invalidateUserCache removes a user from cache.
func (s *UserService) invalidateUserCache(ctx context.Context, id int64) {
	if err := s.UserCache.Delete(ctx, buildUserCacheKey(id)); err != nil {
		log.Debug(ctx, "failed to delete cached user", log.Int64("user_id", id), log.Cause(err))
	}
}

// Start evicts cached users whenever another process changes their role.
func (s *UserService) Start(ctx context.Context) error {
	ch, stop := s.invalidations.Watch()
	s.stopWatch = stop

	go func() {
		for id := range ch {
			s.invalidateUserCache(context.WithoutCancel(ctx), id)
		}
	}()

	return nil
}

func (s *UserService) Stop(context.Context) error {
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}

	return nil
}
