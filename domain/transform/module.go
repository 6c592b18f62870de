package transform

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("transform",
	fx.Provide(NewWorker),
	fx.Invoke(registerWorker),
)

func registerWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			worker.Start()
			return nil
		},
		OnStop: worker.Stop,
	})
}
