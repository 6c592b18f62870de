package extraction

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("extraction",
	fx.Provide(
		NewRepository,
		NewRegistry,
		NewRouter,
	),
	fx.Invoke(registerRouter),
)

func registerRouter(lc fx.Lifecycle, router *Router) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			router.Start()
			return nil
		},
		OnStop: router.Stop,
	})
}
