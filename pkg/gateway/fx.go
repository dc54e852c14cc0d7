package gateway

import (
	"context"

	"go.uber.org/fx"

	"ccrouter/pkg/config"
	_ "ccrouter/pkg/providers/init"
)

// Module provides the router server for fx.
var Module = fx.Module("gateway",
	fx.Provide(NewServer),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(s *Server, cfg *config.Config, loader *config.Loader, lc fx.Lifecycle) {
	watcher := config.NewWatcher(loader, cfg)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := watcher.Start(); err != nil {
				return err
			}
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			watcher.Stop()
			return s.Stop(ctx)
		},
	})
}
