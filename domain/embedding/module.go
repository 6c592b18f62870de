package embedding

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/pkg/syshealth"
)

var Module = fx.Module("embedding",
	fx.Provide(
		NewRepository,
		fx.Annotate(NewNoopStore, fx.As(new(VectorStore))),
		newMonitor,
		newScaler,
		NewWorker,
	),
	fx.Invoke(registerWorker),
)

func newMonitor(log *slog.Logger) syshealth.Monitor {
	return syshealth.NewMonitor(syshealth.DefaultConfig(), log)
}

func newScaler(monitor syshealth.Monitor, cfg *config.Config) *syshealth.ConcurrencyScaler {
	return syshealth.NewConcurrencyScaler(
		monitor,
		cfg.Embedding.EnableAdaptiveScaling,
		cfg.Embedding.MinConcurrency,
		cfg.Embedding.MaxConcurrency,
	)
}

func registerWorker(lc fx.Lifecycle, worker *Worker, monitor syshealth.Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := monitor.Start(); err != nil {
				return err
			}
			worker.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := worker.Stop(ctx)
			if stopErr := monitor.Stop(); err == nil {
				err = stopErr
			}
			return err
		},
	})
}
