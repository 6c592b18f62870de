package queue

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(NewManager),
	fx.Invoke(registerMaintenance),
)

// registerMaintenance recovers messages orphaned by a previous crash before
// any consumer starts claiming.
func registerMaintenance(lc fx.Lifecycle, manager *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := manager.RecoverStale(ctx)
			return err
		},
	})
}
