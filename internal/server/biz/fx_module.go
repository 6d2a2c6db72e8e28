package biz

import (
	"go.uber.org/fx"
)

var Module = fx.Module("biz",
	fx.Provide(NewAbstractService),
	fx.Provide(NewClassService),
	fx.Provide(NewTeamService),
	fx.Provide(NewProjectService),
	fx.Provide(NewPeerReviewService),
	fx.Provide(NewAssignmentService),
	fx.Provide(NewUserService),
	fx.Provide(NewAdminService),
	fx.Invoke(func(lc fx.Lifecycle, svc *UserService) {
		lc.Append(fx.Hook{
			OnStart: svc.Start,
			OnStop:  svc.Stop,
		})
	}),
)
