package etljobs

import (
	"go.uber.org/fx"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/scheduler"
)

var Module = fx.Module("etljobs",
	fx.Provide(
		NewRepository,
		NewDispatcher,
	),
	fx.Invoke(registerDispatch),
)

func registerDispatch(s *scheduler.Scheduler, d *Dispatcher, cfg *config.Config) error {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	return s.AddIntervalTask("etl_dispatch", cfg.Scheduler.TickInterval, d.Tick)
}
