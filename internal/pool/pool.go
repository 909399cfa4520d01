package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/runlog"
)

// Errors for pool admission.
var (
	ErrPoolClosed    = errors.New("pool closed")
	ErrDuplicateTask = errors.New("task already submitted")
)

// TaskResult pairs a finished worker with its run outcome, when one
// was written.
type TaskResult struct {
	WorkerID string
	TaskID   string
	State    WorkerState
	Outcome  *runlog.Outcome
	LogPath  string
}

// Pool bounds how many workers run concurrently. Admission is a
// semaphore: Submit blocks until a slot frees, so the ceiling is never
// exceeded.
type Pool struct {
	sem    chan struct{}
	logger *zap.Logger

	mu      sync.Mutex
	workers []*Worker
	taskIDs map[string]bool
	closed  bool

	wg sync.WaitGroup
}

// NewPool creates a pool admitting at most maxWorkers concurrent runs.
func NewPool(maxWorkers int, logger *zap.Logger) (*Pool, error) {
	if maxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be >= 1, got %d", maxWorkers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:     make(chan struct{}, maxWorkers),
		taskIDs: make(map[string]bool),
		logger:  logger.Named("pool"),
	}, nil
}

// Submit starts the worker once a slot is free, blocking until then.
// The slot is released when the worker's process exits. Task ids are
// unique within a pool so CollectResults can key results by them.
func (p *Pool) Submit(w *Worker) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.taskIDs[w.TaskID()] {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, w.TaskID())
	}
	p.taskIDs[w.TaskID()] = true
	p.mu.Unlock()

	p.sem <- struct{}{}

	if err := w.Start(); err != nil {
		<-p.sem
		p.mu.Lock()
		delete(p.taskIDs, w.TaskID())
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		<-w.done
		<-p.sem
	}()

	p.logger.Debug("worker admitted",
		zap.String("worker_id", w.ID()),
		zap.String("task_id", w.TaskID()),
	)
	return nil
}

// Active returns how many workers currently hold a slot.
func (p *Pool) Active() int {
	return len(p.sem)
}

// Workers returns every worker ever admitted, in submission order.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Worker(nil), p.workers...)
}

// CollectResults closes the pool to new submissions, waits up to
// timeout for all workers to finish, kills any still running, and
// returns one result per worker keyed by task id.
func (p *Pool) CollectResults(timeout time.Duration) map[string]TaskResult {
	p.mu.Lock()
	p.closed = true
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for _, w := range workers {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if !w.Wait(remaining) {
			p.logger.Warn("worker overran collection deadline",
				zap.String("worker_id", w.ID()),
				zap.String("task_id", w.TaskID()),
			)
			w.MarkTimeout()
			if err := w.Kill(); err != nil {
				p.logger.Warn("failed to kill worker", zap.Error(err))
			}
			w.Wait(5 * time.Second)
		}
	}

	results := make(map[string]TaskResult, len(workers))
	for _, w := range workers {
		outcome, err := w.Result()
		if err != nil {
			p.logger.Warn("failed to read worker outcome",
				zap.String("task_id", w.TaskID()),
				zap.Error(err),
			)
		}
		results[w.TaskID()] = TaskResult{
			WorkerID: w.ID(),
			TaskID:   w.TaskID(),
			State:    w.State(),
			Outcome:  outcome,
			LogPath:  w.LogPath(),
		}
	}
	return results
}
