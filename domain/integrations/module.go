package integrations

import "go.uber.org/fx"

var Module = fx.Module("integrations",
	fx.Provide(NewRepository),
)
