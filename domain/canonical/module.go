package canonical

import "go.uber.org/fx"

var Module = fx.Module("canonical",
	fx.Provide(NewStore),
)
