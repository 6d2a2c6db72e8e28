package server

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/looplj/classhub/internal/audit"
	"github.com/looplj/classhub/internal/authz"
	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/server/biz"
	"github.com/looplj/classhub/internal/server/dependencies"
	"github.com/looplj/classhub/internal/store"
)

// Services is the surface commands run against.
type Services struct {
	fx.In

	Config      Config
	DB          *store.DB
	Registry    *authz.Registry
	Recorder    *audit.Recorder
	Classes     *biz.ClassService
	Teams       *biz.TeamService
	Projects    *biz.ProjectService
	PeerReviews *biz.PeerReviewService
	Assignments *biz.AssignmentService
	Users       *biz.UserService
	Admin       *biz.AdminService
}

// Run starts the application graph, calls fn with the resolved services and
// stops the graph again, whatever fn returned.
func Run(ctx context.Context, fn func(ctx context.Context, svc *Services) error, opts ...fx.Option) error {
	var svc Services

	app := fx.New(
		append([]fx.Option{
			fx.NopLogger,
			dependencies.Module,
			biz.Module,
			fx.Invoke(func(cfg log.Config) {
				log.SetGlobalConfig(cfg)
			}),
			fx.Invoke(func(s Services) {
				svc = s
			}),
		}, opts...)...,
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	var result error

	if err := fn(ctx, &svc); err != nil {
		result = multierror.Append(result, err)
	}

	timeout := svc.Config.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error(ctx, "application stop error", log.Cause(err))
		result = multierror.Append(result, err)
	}

	return result
}
