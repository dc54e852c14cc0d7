// Package main is the entry point for the ccrouter CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ccrouter/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ccrouter",
	Short: "ccrouter - a local LLM protocol-translation router",
	Long: `ccrouter is a local HTTP router that sits between a coding-assistant CLI
and upstream LLM providers. It rewrites each chat request into the selected
provider's native wire format, forwards it, and translates the streaming or
unary response back into the format the CLI expects.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetFullVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
