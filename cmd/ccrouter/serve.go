package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"ccrouter/pkg/config"
	"ccrouter/pkg/gateway"
	"ccrouter/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the router server",
	Long: `Start the ccrouter HTTP server in the foreground.

The server listens on the configured host and port (default 127.0.0.1:3456)
and accepts Anthropic-style chat completion requests on POST /v1/messages.

Examples:
  # Run with the default config (~/.ccrouter/config.json)
  ccrouter serve

  # Run with an explicit config file
  ccrouter serve -c ./config.json`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	fx.New(appOptions()...).Run()
}

// appOptions assembles the router application modules.
func appOptions() []fx.Option {
	configModule := config.Module
	if configPath != "" {
		configModule = fx.Module("config",
			fx.Provide(config.ProvideLoader),
			fx.Provide(func(loader *config.Loader) (*config.Config, error) {
				cfg, err := loader.LoadFromFile(configPath)
				if err != nil {
					return nil, err
				}
				if err := config.ValidateConfig(cfg); err != nil {
					return nil, err
				}
				return cfg, nil
			}),
		)
	}

	return []fx.Option{
		configModule,
		fx.Provide(func(cfg *config.Config) logger.ConfigProvider { return cfg }),
		logger.Module,
		gateway.Module,
	}
}
