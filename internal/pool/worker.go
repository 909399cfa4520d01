// Package pool runs many isolated task runs concurrently: each worker
// is one out-of-process supervisor run, the pool bounds how many run at
// once, and the monitor classifies workers as healthy or stalled.
package pool

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/runlog"
)

// WorkerState is a worker's lifecycle state.
type WorkerState string

const (
	StatePending   WorkerState = "pending"
	StateRunning   WorkerState = "running"
	StateCompleted WorkerState = "completed"
	StateTimeout   WorkerState = "timeout"
	StateFailed    WorkerState = "failed"
	StateKilled    WorkerState = "killed"
)

// ErrNotStarted indicates an operation that needs a started process.
var ErrNotStarted = errors.New("worker not started")

// WorkerConfig describes one out-of-process run.
type WorkerConfig struct {
	// TaskID is the task the worker executes.
	TaskID string

	// Command is the argv of the child process, typically this binary
	// re-invoked with the run subcommand.
	Command []string

	// Dir is the working directory for the child process.
	Dir string

	// LogDir receives the per-worker combined stdout/stderr log.
	LogDir string

	// RunRoot is where the child creates its run directory; Result
	// looks for the finalized outcome there.
	RunRoot string

	Logger *zap.Logger
}

// Worker wraps one out-of-process supervisor run.
type Worker struct {
	id     string
	taskID string
	cfg    WorkerConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     WorkerState
	cmd       *exec.Cmd
	logFile   *os.File
	logPath   string
	startedAt time.Time

	done chan struct{}
}

// NewWorker creates a pending worker. Nothing runs until Start.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.TaskID == "" {
		return nil, errors.New("task id is required")
	}
	if len(cfg.Command) == 0 {
		return nil, errors.New("command is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Worker{
		id:     id,
		taskID: cfg.TaskID,
		cfg:    cfg,
		logger: cfg.Logger.Named("worker").With(
			zap.String("worker_id", id),
			zap.String("task_id", cfg.TaskID),
		),
		state: StatePending,
		done:  make(chan struct{}),
	}, nil
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// TaskID returns the task this worker executes.
func (w *Worker) TaskID() string { return w.taskID }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// StartedAt returns when the process started; zero while pending.
func (w *Worker) StartedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startedAt
}

// LogPath returns the worker's log file path; empty while pending.
func (w *Worker) LogPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logPath
}

// Start launches the child process and begins collecting its output.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StatePending {
		return fmt.Errorf("worker %s already started", w.id)
	}

	if err := os.MkdirAll(w.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(w.cfg.LogDir, fmt.Sprintf("worker-%s.log", w.id))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open worker log: %w", err)
	}

	cmd := exec.Command(w.cfg.Command[0], w.cfg.Command[1:]...)
	cmd.Dir = w.cfg.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start worker process: %w", err)
	}

	w.cmd = cmd
	w.logFile = logFile
	w.logPath = logPath
	w.startedAt = time.Now()
	w.state = StateRunning

	w.logger.Info("worker started", zap.Int("pid", cmd.Process.Pid))

	go w.reap()
	return nil
}

// reap waits for the process to exit and records the terminal state,
// unless Kill got there first.
func (w *Worker) reap() {
	err := w.cmd.Wait()

	w.mu.Lock()
	if w.state == StateRunning {
		if err != nil {
			w.state = StateFailed
		} else {
			w.state = StateCompleted
		}
	}
	w.logFile.Close()
	state := w.state
	w.mu.Unlock()

	w.logger.Info("worker exited", zap.String("state", string(state)))
	close(w.done)
}

// IsRunning reports whether the process is still executing.
func (w *Worker) IsRunning() bool {
	return w.State() == StateRunning
}

// Wait blocks until the process exits or the timeout elapses. Returns
// true when the worker finished in time.
func (w *Worker) Wait(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Kill terminates the process. The worker's state becomes killed
// unless it already exited.
func (w *Worker) Kill() error {
	w.mu.Lock()
	if w.cmd == nil {
		w.mu.Unlock()
		return ErrNotStarted
	}
	switch w.state {
	case StateCompleted, StateFailed, StateKilled:
		w.mu.Unlock()
		return nil
	case StateRunning:
		w.state = StateKilled
	}
	// A timed-out worker keeps its state; the process still dies.
	proc := w.cmd.Process
	w.mu.Unlock()

	w.logger.Warn("killing worker")
	return proc.Kill()
}

// MarkTimeout records that the worker overran its collection deadline.
// The process itself must be killed separately.
func (w *Worker) MarkTimeout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRunning {
		w.state = StateTimeout
	}
}

// Result reads the finalized outcome of the worker's run, if the child
// got far enough to write one. Returns nil without error otherwise.
func (w *Worker) Result() (*runlog.Outcome, error) {
	dir, ok := w.runDir()
	if !ok {
		return nil, nil
	}
	return runlog.LoadOutcome(dir)
}

// runDir locates the newest run directory for the worker's task. Run
// ids have the shape <stamp>-<task id>; the stamp never contains a
// dash, so the first dash splits the two.
func (w *Worker) runDir() (string, bool) {
	entries, err := os.ReadDir(w.cfg.RunRoot)
	if err != nil {
		return "", false
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stamp, rest, ok := strings.Cut(entry.Name(), "-")
		if !ok || rest != w.taskID {
			continue
		}
		if _, err := time.Parse("20060102T150405", stamp); err != nil {
			continue
		}
		dirs = append(dirs, entry.Name())
	}
	if len(dirs) == 0 {
		return "", false
	}

	// The stamp prefix makes lexical order start order.
	sort.Strings(dirs)
	return filepath.Join(w.cfg.RunRoot, dirs[len(dirs)-1]), true
}
