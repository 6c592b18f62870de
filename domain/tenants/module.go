package tenants

import "go.uber.org/fx"

var Module = fx.Module("tenants",
	fx.Provide(
		NewRepository,
		NewTierResolver,
	),
)
