// Package main implements the overseer CLI: run executes one task to a
// terminal outcome, swarm runs many tasks concurrently against isolated
// workspaces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/config"
	"github.com/stackmesa/overseer/internal/logging"
)

var (
	cfgPath string
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Bounded task orchestration against isolated workspaces",
	Long: `overseer executes declarative tasks through registered tool adapters,
verifies their postconditions, and recovers from failure through bounded
retries, re-planning, or human handoff. The swarm subcommand runs many
tasks concurrently, each against its own isolated copy of the workspace.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the overseer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "overseer %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(swarmCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger every subcommand
// shares.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
