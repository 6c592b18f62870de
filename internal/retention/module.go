package retention

import (
	"go.uber.org/fx"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/scheduler"
)

var Module = fx.Module("retention",
	fx.Provide(NewPruner),
	fx.Invoke(registerSweep),
)

func registerSweep(s *scheduler.Scheduler, p *Pruner, cfg *config.Config) error {
	if !cfg.Retention.Enabled {
		return nil
	}
	return s.AddIntervalTask("retention_sweep", cfg.Retention.Interval, p.Run)
}
