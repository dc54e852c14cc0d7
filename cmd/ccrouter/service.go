package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// routerService implements service.Interface for the router daemon.
type routerService struct {
	app    *fx.App
	logger service.Logger
}

// Start implements service.Interface.
func (s *routerService) Start(svc service.Service) error {
	if s.logger != nil {
		s.logger.Info("Starting ccrouter service")
	}
	go s.run()
	return nil
}

// Stop implements service.Interface.
func (s *routerService) Stop(svc service.Service) error {
	if s.logger != nil {
		s.logger.Info("Stopping ccrouter service")
	}
	if s.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.app.Stop(ctx)
	}
	return nil
}

func (s *routerService) run() {
	options := append(appOptions(),
		fx.NopLogger, // Suppress fx logs when running as a service
	)
	s.app = fx.New(options...)
	s.app.Run()
}

func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "ccrouter",
		DisplayName: "ccrouter",
		Description: "Local LLM protocol-translation router",
		Arguments:   []string{"service", "run"},
	}
}

func newService() (service.Service, *routerService, error) {
	prg := &routerService{}
	svc, err := service.New(prg, serviceConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("creating service: %w", err)
	}
	return svc, prg, nil
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage ccrouter as a system service",
	Long: `Manage the ccrouter system service.

Examples:
  sudo ccrouter service install
  sudo ccrouter service start
  sudo ccrouter service stop
  sudo ccrouter service uninstall`,
}

var serviceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router under the service manager",
	Run: func(cmd *cobra.Command, args []string) {
		svc, prg, err := newService()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if logger, err := svc.Logger(nil); err == nil {
			prg.logger = logger
		}
		if err := svc.Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install ccrouter as a system service",
	Run: func(cmd *cobra.Command, args []string) {
		svc, _, err := newService()
		if err == nil {
			err = svc.Install()
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Service installed. Use 'ccrouter service start' to start it.")
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the ccrouter service",
	Run: func(cmd *cobra.Command, args []string) {
		svc, _, err := newService()
		if err == nil {
			err = svc.Uninstall()
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Service uninstalled.")
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ccrouter service",
	Run: func(cmd *cobra.Command, args []string) {
		svc, _, err := newService()
		if err == nil {
			err = svc.Start()
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Service started.")
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ccrouter service",
	Run: func(cmd *cobra.Command, args []string) {
		svc, _, err := newService()
		if err == nil {
			err = svc.Stop()
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Service stopped.")
	},
}

var serviceRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the ccrouter service",
	Run: func(cmd *cobra.Command, args []string) {
		svc, _, err := newService()
		if err == nil {
			err = svc.Restart()
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Service restarted.")
	},
}

func init() {
	serviceCmd.AddCommand(serviceRunCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	serviceCmd.AddCommand(serviceRestartCmd)
}
