package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/config"
	"github.com/stackmesa/overseer/internal/isolation"
	"github.com/stackmesa/overseer/internal/logging"
	"github.com/stackmesa/overseer/internal/pool"
	"github.com/stackmesa/overseer/internal/runlog"
	"github.com/stackmesa/overseer/internal/task"
)

var (
	swarmApply  bool
	swarmKeep   bool
	swarmUnsafe bool
)

func init() {
	swarmCmd.Flags().BoolVar(&swarmApply, "apply", false, "apply non-conflicting changes back to the workspace")
	swarmCmd.Flags().BoolVar(&swarmKeep, "keep", false, "keep isolated workspaces after the swarm finishes")
	swarmCmd.Flags().BoolVar(&swarmUnsafe, "unsafe", false, "allow dangerous tools in worker runs")
}

var swarmCmd = &cobra.Command{
	Use:   "swarm <task.yaml>...",
	Short: "Run many tasks concurrently against isolated workspaces",
	Long: `Run each task in its own isolated copy of the workspace, bounded by the
configured worker ceiling. After all tasks finish, changed files are
compared across tasks: paths touched by more than one task are reported
as conflicts and never applied automatically.

Examples:
  # Run three tasks with at most the configured workers in flight
  overseer swarm fix-a.yaml fix-b.yaml fix-c.yaml

  # Apply the non-conflicting results back to the workspace
  overseer swarm --apply tasks/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwarm,
}

// workspaceIsolator is what the swarm needs from either isolation
// strategy.
type workspaceIsolator interface {
	isolation.Isolator
	Changes(taskID string) (map[string]isolation.ChangeKind, error)
}

func runSwarm(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	if cfg.Workspace == "" {
		return fmt.Errorf("swarm requires a configured workspace")
	}

	swarmID := time.Now().UTC().Format("20060102T150405")
	isolator, err := newIsolator(cfg, swarmID, logger)
	if err != nil {
		return err
	}
	if !swarmKeep {
		defer isolator.CleanupAll()
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	p, err := pool.NewPool(cfg.Pool.MaxWorkers, logger)
	if err != nil {
		return err
	}
	monitor := pool.NewMonitor(p, cfg.Pool.StallTimeout, cfg.Pool.ProbeInterval, logger, prometheus.DefaultRegisterer)
	monitor.Start()
	defer monitor.Stop()

	taskFiles := make(map[string]string, len(args))
	for _, file := range args {
		t, err := task.ParseFile(file)
		if err != nil {
			return fmt.Errorf("task %s: %w", file, err)
		}
		if _, ok := taskFiles[t.ID]; ok {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		taskFiles[t.ID] = file

		dir, err := isolator.Create(t.ID)
		if err != nil {
			return err
		}

		w, err := pool.NewWorker(pool.WorkerConfig{
			TaskID:  t.ID,
			Command: workerCommand(exe, file, dir),
			Dir:     dir,
			LogDir:  filepath.Join(cfg.RunRoot, "logs"),
			RunRoot: cfg.RunRoot,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		if err := p.Submit(w); err != nil {
			return err
		}
	}

	results := p.CollectResults(cfg.Pool.CollectTimeout)
	logger.Info("swarm finished",
		zap.Int("tasks", len(results)),
		zap.Float64("healthy_percent", monitor.HealthyPercent()),
	)

	changesByTask := make(map[string][]string)
	for taskID := range results {
		changes, err := isolator.Changes(taskID)
		if err != nil {
			logger.Warn("failed to collect changes", zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		for path := range changes {
			changesByTask[taskID] = append(changesByTask[taskID], path)
		}
	}
	conflicts := isolation.DetectConflicts(changesByTask)

	printSwarmReport(results, conflicts)

	if swarmApply {
		if err := applyChanges(cfg, isolator, results, conflicts, logger); err != nil {
			return err
		}
	}

	failed := 0
	for _, r := range results {
		if r.Outcome == nil || r.Outcome.Status != runlog.StatusSuccess {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks did not succeed", failed, len(results))
	}
	return nil
}

func newIsolator(cfg *config.Config, swarmID string, logger *zap.Logger) (workspaceIsolator, error) {
	stateRoot := filepath.Join(cfg.Workspace, ".overseer")
	switch cfg.Isolation {
	case "worktree":
		return isolation.NewWorktreeManager(cfg.Workspace, filepath.Join(stateRoot, "worktrees"), swarmID, logger)
	default:
		return isolation.NewCopySandbox(cfg.Workspace, filepath.Join(stateRoot, "sandboxes", swarmID), logger)
	}
}

func workerCommand(exe, taskFile, workDir string) []string {
	cmd := []string{exe, "run", "--workdir", workDir}
	if cfgPath != "" {
		cmd = append(cmd, "--config", cfgPath)
	}
	if swarmUnsafe {
		cmd = append(cmd, "--unsafe")
	}
	return append(cmd, taskFile)
}

func printSwarmReport(results map[string]pool.TaskResult, conflicts []isolation.Conflict) {
	for taskID, r := range results {
		status := string(r.State)
		reason := ""
		if r.Outcome != nil {
			status = r.Outcome.Status
			reason = r.Outcome.Reason
		}
		if reason != "" {
			fmt.Printf("%s\t%s\t(%s)\n", taskID, status, reason)
		} else {
			fmt.Printf("%s\t%s\n", taskID, status)
		}
	}

	for _, c := range conflicts {
		fmt.Printf("conflict\t%s\t%v\n", c.Path, c.Tasks)
	}
}

// applyChanges copies each successful task's changes back to the
// workspace, skipping every task involved in a conflict. Only the copy
// strategy can apply; worktree results stay on their branches.
func applyChanges(cfg *config.Config, isolator workspaceIsolator, results map[string]pool.TaskResult, conflicts []isolation.Conflict, logger *zap.Logger) error {
	sandbox, ok := isolator.(*isolation.CopySandbox)
	if !ok {
		logger.Info("worktree isolation keeps results on task branches; nothing to apply")
		return nil
	}

	conflicted := make(map[string]bool)
	for _, c := range conflicts {
		for _, taskID := range c.Tasks {
			conflicted[taskID] = true
		}
	}

	for taskID, r := range results {
		if conflicted[taskID] {
			logger.Warn("skipping conflicted task", zap.String("task_id", taskID))
			continue
		}
		if r.Outcome == nil || r.Outcome.Status != runlog.StatusSuccess {
			continue
		}
		if err := sandbox.Apply(taskID, cfg.Workspace); err != nil {
			return fmt.Errorf("failed to apply changes for %s: %w", taskID, err)
		}
	}
	return nil
}
