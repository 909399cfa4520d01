package supervisor

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/checkpoint"
	"github.com/stackmesa/overseer/internal/runlog"
	"github.com/stackmesa/overseer/internal/task"
	"github.com/stackmesa/overseer/internal/tools"
	"github.com/stackmesa/overseer/internal/verify"
)

// execution is the mutable state of one run: budgets, counters, and
// accumulated evidence. It exists for the duration of one Run call.
type execution struct {
	sup *Supervisor
	run *runlog.Run
	cpm *checkpoint.Manager

	deadline     time.Time
	maxToolCalls int

	attempts  int
	toolCalls int
	evidence  map[string]any
}

// attemptFailure classifies why an attempt failed. abort finalizes the
// run as aborted immediately; terminal finalizes it as escalated
// immediately; otherwise the failure feeds the retry/self-heal loop.
type attemptFailure struct {
	taskID   string
	reason   string
	detail   string
	abort    bool
	terminal bool
}

// executeTree runs the task depth-first. A composite stops at its first
// failing child; there is no partial-success aggregation.
func (e *execution) executeTree(ctx context.Context, t *task.Task, attempt int) *attemptFailure {
	if t.IsComposite() {
		for i := range t.Steps {
			if fail := e.executeTree(ctx, &t.Steps[i], attempt); fail != nil {
				return fail
			}
		}
		return nil
	}

	if t.RequiresHuman || t.Type == task.TypeHuman {
		return e.awaitHandoff(ctx, t)
	}

	return e.executeLeaf(ctx, t, attempt)
}

// executeLeaf resolves the task's tool, invokes it, and runs the
// declared verifiers. The leaf succeeds only when the adapter reports
// success and every verifier passes.
func (e *execution) executeLeaf(ctx context.Context, t *task.Task, attempt int) *attemptFailure {
	spec, err := e.sup.tools.Resolve(t)
	if err != nil {
		if errors.Is(err, tools.ErrUnsafeTool) {
			e.run.AppendEvent("tool_blocked", t.ID, map[string]any{"error": err.Error()})
			return &attemptFailure{taskID: t.ID, reason: ReasonUnsafeTool, detail: err.Error(), abort: true}
		}
		return &attemptFailure{taskID: t.ID, reason: ReasonToolResolution, detail: err.Error()}
	}

	inputs := tools.BuildInputs(t)
	e.run.AppendEvent("tool_invoking", t.ID, map[string]any{
		"tool":    spec.Name,
		"attempt": attempt,
	})

	e.toolCalls++
	if e.sup.toolCallCounter != nil {
		e.sup.toolCallCounter.Add(ctx, 1)
	}

	result, err := spec.Adapter.Execute(ctx, t, inputs)

	trace := runlog.TraceEntry{TaskID: t.ID, Tool: spec.Name, Inputs: inputs, Attempt: attempt}
	if result != nil {
		trace.Result = result
	}
	e.run.AppendTrace(trace)

	if err != nil {
		e.run.AppendEvent("tool_result", t.ID, map[string]any{"tool": spec.Name, "error": err.Error()})
		return &attemptFailure{taskID: t.ID, reason: ReasonAdapterError, detail: err.Error()}
	}

	e.run.AppendEvent("tool_result", t.ID, map[string]any{
		"tool":    spec.Name,
		"success": result.Success,
		"error":   result.Error,
	})

	for k, v := range result.Output {
		e.evidence[k] = v
	}

	if !result.Success {
		return &attemptFailure{taskID: t.ID, reason: ReasonAdapterError, detail: result.Error}
	}

	vctx := verify.Context{
		ToolSuccess: result.Success,
		LastResult:  result.Output,
		Evidence:    e.evidence,
		WorkDir:     e.sup.workDir,
	}
	if html, ok := result.Output["html"].(string); ok {
		vctx.HTMLSnapshot = html
	}

	outcomes, passed, err := e.sup.verifiers.Run(t.Verifications, vctx)
	if err != nil {
		e.run.AppendEvent("verification", t.ID, map[string]any{"error": err.Error()})
		return &attemptFailure{taskID: t.ID, reason: ReasonVerificationFailed, detail: err.Error()}
	}

	e.run.AppendEvent("verification", t.ID, map[string]any{
		"passed":   passed,
		"outcomes": outcomes,
	})

	if !passed {
		return &attemptFailure{taskID: t.ID, reason: ReasonVerificationFailed, detail: failedVerifiers(outcomes)}
	}
	return nil
}

// awaitHandoff writes the waiting marker and blocks until the resume
// marker appears or the run deadline passes. The wait combines a
// filesystem watch with a slow poll so a missed event cannot strand the
// run.
func (e *execution) awaitHandoff(ctx context.Context, t *task.Task) *attemptFailure {
	if err := e.run.WriteHandoffMarker(t.Goal); err != nil {
		return &attemptFailure{taskID: t.ID, reason: ReasonHandoffTimeout, detail: err.Error(), terminal: true}
	}
	defer e.run.ClearHandoffMarker()

	e.run.AppendEvent("handoff_waiting", t.ID, map[string]any{"goal": t.Goal})
	e.sup.logger.Info("waiting for human handoff",
		zap.String("task_id", t.ID),
		zap.String("resume_marker", e.run.ResumeMarkerPath()),
	)

	var fsEvents chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(e.run.Dir()); err == nil {
			fsEvents = watcher.Events
		}
	}

	ticker := time.NewTicker(e.sup.handoffPoll)
	defer ticker.Stop()

	for {
		if e.run.ResumeSignaled() {
			os.Remove(e.run.ResumeMarkerPath())
			e.run.AppendEvent("handoff_resumed", t.ID, nil)
			return nil
		}
		if e.sup.now().After(e.deadline) {
			e.run.AppendEvent("handoff_timeout", t.ID, nil)
			return &attemptFailure{taskID: t.ID, reason: ReasonHandoffTimeout, terminal: true}
		}

		select {
		case <-ctx.Done():
			return &attemptFailure{taskID: t.ID, reason: ReasonCanceled, detail: ctx.Err().Error(), terminal: true}
		case <-fsEvents:
		case <-ticker.C:
		}
	}
}

// saveCheckpoint records attempt state after every attempt. Checkpoint
// failures are logged, never fatal.
func (e *execution) saveCheckpoint(ctx context.Context, attempt int, taskID string, fail *attemptFailure) {
	state := map[string]any{
		"task_id":    taskID,
		"attempt":    attempt,
		"tool_calls": e.toolCalls,
	}
	if fail != nil {
		state["failure_reason"] = fail.reason
		state["failed_task_id"] = fail.taskID
	}
	if err := e.cpm.Save(ctx, attempt, state); err != nil {
		e.sup.logger.Warn("failed to save checkpoint",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// finalize writes the outcome document exactly once and returns the
// persisted outcome.
func (e *execution) finalize(t terminal) (*runlog.Outcome, error) {
	err := e.run.Finalize(runlog.Outcome{
		Status:    t.status,
		Reason:    t.reason,
		Attempts:  e.attempts,
		ToolCalls: e.toolCalls,
	})
	if err != nil {
		return nil, err
	}
	return runlog.LoadOutcome(e.run.Dir())
}

func failedVerifiers(outcomes []verify.Outcome) string {
	detail := ""
	for _, o := range outcomes {
		if o.Passed {
			continue
		}
		if detail != "" {
			detail += "; "
		}
		detail += o.ID
		if o.Details != "" {
			detail += ": " + o.Details
		}
	}
	return detail
}
