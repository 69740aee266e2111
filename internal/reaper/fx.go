package reaper

import (
	"context"

	"go.uber.org/fx"
)

func registerHooks(lc fx.Lifecycle, r *Reaper) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				r.RunForever(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

var Module = fx.Module("reaper",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
