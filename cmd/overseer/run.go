package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/config"
	"github.com/stackmesa/overseer/internal/logging"
	"github.com/stackmesa/overseer/internal/runlog"
	"github.com/stackmesa/overseer/internal/supervisor"
	"github.com/stackmesa/overseer/internal/task"
	"github.com/stackmesa/overseer/internal/tools"
	"github.com/stackmesa/overseer/internal/verify"
)

var (
	runWorkDir string
	runUnsafe  bool
)

func init() {
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "workspace the task executes against (defaults to the configured workspace)")
	runCmd.Flags().BoolVar(&runUnsafe, "unsafe", false, "allow dangerous tools (command execution, scripts)")
}

var runCmd = &cobra.Command{
	Use:   "run <task.yaml>",
	Short: "Execute one task to a terminal outcome",
	Long: `Execute a task definition through the supervisor: resolve its tool,
verify its postconditions, and retry or escalate per its stop rules.
The process exits zero only when the run finalizes as success.

Examples:
  # Run a task against the current directory
  overseer run task.yaml --workdir .

  # Allow command execution
  overseer run deploy.yaml --unsafe`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	workDir := runWorkDir
	if workDir == "" {
		workDir = cfg.Workspace
	}
	if workDir == "" {
		workDir = "."
	}

	t, err := task.ParseFile(args[0])
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		RunRoot:   cfg.RunRoot,
		WorkDir:   workDir,
		Tools:     buildToolRegistry(cfg, workDir, logger),
		Verifiers: verify.NewRegistry(logger),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	outcome, err := sup.Run(cmd.Context(), t)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}

	if outcome.Status != runlog.StatusSuccess {
		return fmt.Errorf("run finalized as %s (%s)", outcome.Status, outcome.Reason)
	}
	return nil
}

// buildToolRegistry registers the built-in adapters. Dangerous tools
// execute only when unsafe mode is enabled by flag, config, or the
// environment override the registry itself reads.
func buildToolRegistry(cfg *config.Config, workDir string, logger *zap.Logger) *tools.Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []tools.Option{tools.WithLogger(logger)}
	if runUnsafe || cfg.UnsafeTools {
		opts = append(opts, tools.WithUnsafe())
	}
	reg := tools.NewRegistry(opts...)

	specs := []tools.Spec{
		{Name: "notify", Adapter: tools.NewNotifyAdapter(logger)},
		{Name: "file", Adapter: tools.NewFileAdapter(workDir)},
		{Name: "http", Adapter: tools.NewHTTPAdapter(nil)},
		{Name: "shell", Adapter: tools.NewShellAdapter(workDir), Dangerous: true},
		{Name: "script", Adapter: tools.NewScriptAdapter(workDir), Dangerous: true},
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			logger.Warn("failed to register tool", zap.String("tool", spec.Name), zap.Error(err))
		}
	}
	return reg
}
