// Package supervisor drives one task, possibly a tree of sub-tasks,
// through bounded attempts: execute, verify, and on failure either
// retry, self-heal via the planning collaborator, hand off to a human,
// or finalize. Every run ends in exactly one of success, escalated, or
// aborted.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/checkpoint"
	"github.com/stackmesa/overseer/internal/runlog"
	"github.com/stackmesa/overseer/internal/task"
	"github.com/stackmesa/overseer/internal/tools"
	"github.com/stackmesa/overseer/internal/verify"
)

const instrumentationName = "github.com/stackmesa/overseer/internal/supervisor"

// Loop detection: a failure signature repeating loopRepeatLimit times
// within the trailing loopWindowSize signatures escalates the run.
const (
	loopWindowSize  = 8
	loopRepeatLimit = 3
)

// defaultHandoffPoll is how often the handoff wait re-checks for the
// resume marker when no filesystem event arrives.
const defaultHandoffPoll = 2 * time.Second

// Failure and stop reasons recorded in the run outcome.
const (
	ReasonTimeout            = "timeout"
	ReasonMaxToolCalls       = "max_tool_calls_exceeded"
	ReasonLoopDetected       = "loop_detected"
	ReasonHandoffTimeout     = "handoff_timeout"
	ReasonUnsafeTool         = "unsafe_tool_blocked"
	ReasonToolResolution     = "tool_resolution_failed"
	ReasonAdapterError       = "adapter_error"
	ReasonVerificationFailed = "verification_failed"
	ReasonAttemptsExhausted  = "attempts_exhausted"
	ReasonPlannerStop        = "planner_stop"
	ReasonCanceled           = "canceled"
)

// Config holds the supervisor's collaborators.
type Config struct {
	// RunRoot is the directory run directories are created under.
	RunRoot string

	// WorkDir is the workspace tasks execute against; relative paths in
	// file operations and verifiers resolve against it.
	WorkDir string

	Tools     *tools.Registry
	Verifiers *verify.Registry

	// Planner enables self-healing. Nil disables it.
	Planner Planner

	// HandoffPoll overrides the resume-marker poll interval.
	HandoffPoll time.Duration

	// Now overrides the time source for budget checks. Tests only.
	Now func() time.Time

	Logger *zap.Logger
}

// Supervisor executes tasks. One Supervisor may run many tasks, but
// each Run call is single-threaded and synchronous.
type Supervisor struct {
	runRoot     string
	workDir     string
	tools       *tools.Registry
	verifiers   *verify.Registry
	planner     Planner
	handoffPoll time.Duration
	now         func() time.Time
	logger      *zap.Logger

	tracer          trace.Tracer
	attemptCounter  metric.Int64Counter
	toolCallCounter metric.Int64Counter
}

// New creates a supervisor, validating its collaborators.
func New(cfg Config) (*Supervisor, error) {
	if cfg.RunRoot == "" {
		return nil, errors.New("run root is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.Verifiers == nil {
		return nil, errors.New("verifier registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HandoffPoll <= 0 {
		cfg.HandoffPoll = defaultHandoffPoll
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Supervisor{
		runRoot:     cfg.RunRoot,
		workDir:     cfg.WorkDir,
		tools:       cfg.Tools,
		verifiers:   cfg.Verifiers,
		planner:     cfg.Planner,
		handoffPoll: cfg.HandoffPoll,
		now:         cfg.Now,
		logger:      cfg.Logger.Named("supervisor"),
		tracer:      otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.attemptCounter, err = meter.Int64Counter(
		"overseer.supervisor.attempts_total",
		metric.WithDescription("Total task attempts started"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		s.logger.Warn("failed to create attempt counter", zap.Error(err))
	}
	s.toolCallCounter, err = meter.Int64Counter(
		"overseer.supervisor.tool_calls_total",
		metric.WithDescription("Total tool invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		s.logger.Warn("failed to create tool call counter", zap.Error(err))
	}

	return s, nil
}

// Run executes the task to a terminal outcome. The returned outcome is
// the finalized document also persisted in the run directory.
func (s *Supervisor) Run(ctx context.Context, t *task.Task) (*runlog.Outcome, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "supervisor.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_id", t.ID),
		attribute.String("task_type", string(t.Type)),
	)

	run, err := runlog.New(s.runRoot, t, s.logger)
	if err != nil {
		return nil, err
	}

	e := &execution{
		sup:      s,
		run:      run,
		cpm:      checkpoint.NewManager(run.CheckpointDir(), s.logger),
		evidence: make(map[string]any),
		// Budgets come from the root task as defined at run start; a
		// corrected task from self-healing does not reset them.
		deadline:     run.StartedAt().Add(time.Duration(t.StopRules.MaxMinutes) * time.Minute),
		maxToolCalls: t.StopRules.MaxToolCalls,
	}

	outcome := s.drive(ctx, e, t)
	span.SetAttributes(
		attribute.String("status", outcome.status),
		attribute.String("reason", outcome.reason),
	)
	return e.finalize(outcome)
}

// terminal is a finalized status and reason.
type terminal struct {
	status string
	reason string
}

// drive is the attempt loop. Each attempt produces either a terminal
// outcome or a continuation carrying the (possibly corrected) task for
// the next attempt.
func (s *Supervisor) drive(ctx context.Context, e *execution, root *task.Task) terminal {
	cur := root
	window := &signatureWindow{}

	maxAttempts := root.StopRules.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Budget checks happen only at attempt boundaries; a single slow
		// tool call can overrun before the next check fires.
		if s.now().After(e.deadline) {
			return terminal{runlog.StatusEscalated, ReasonTimeout}
		}
		if e.toolCalls > e.maxToolCalls {
			return terminal{runlog.StatusEscalated, ReasonMaxToolCalls}
		}

		if s.attemptCounter != nil {
			s.attemptCounter.Add(ctx, 1)
		}
		e.attempts = attempt
		e.run.AppendEvent("attempt_start", cur.ID, map[string]any{"attempt": attempt})

		fail := e.executeTree(ctx, cur, attempt)
		e.saveCheckpoint(ctx, attempt, cur.ID, fail)

		if fail == nil {
			return terminal{runlog.StatusSuccess, ""}
		}

		e.run.AppendEvent("attempt_failed", fail.taskID, map[string]any{
			"attempt": attempt,
			"reason":  fail.reason,
			"detail":  fail.detail,
		})
		s.logger.Warn("attempt failed",
			zap.String("task_id", fail.taskID),
			zap.Int("attempt", attempt),
			zap.String("reason", fail.reason),
		)

		if window.record(fail.reason, fail.taskID) {
			return terminal{runlog.StatusEscalated, ReasonLoopDetected}
		}
		if fail.abort {
			return terminal{runlog.StatusAborted, fail.reason}
		}
		if fail.terminal {
			return terminal{runlog.StatusEscalated, fail.reason}
		}

		if s.planner != nil && attempt < maxAttempts {
			switch heal := s.selfHeal(ctx, e, cur, fail); heal.kind {
			case healTerminal:
				return terminal{heal.status, heal.reason}
			case healContinue:
				cur = heal.next
			}
		}
	}

	if root.OnFail == task.OnFailAbort {
		return terminal{runlog.StatusAborted, ReasonAttemptsExhausted}
	}
	return terminal{runlog.StatusEscalated, ReasonAttemptsExhausted}
}

type healKind int

const (
	healNone healKind = iota
	healContinue
	healTerminal
)

// healResult is the tagged outcome of one self-heal consultation:
// either nothing, a corrected task to continue with, or an order to
// stop.
type healResult struct {
	kind   healKind
	next   *task.Task
	status string
	reason string
}

// selfHeal consults the planner. A planner error or an invalid
// corrected definition is treated as no fix produced.
func (s *Supervisor) selfHeal(ctx context.Context, e *execution, cur *task.Task, fail *attemptFailure) healResult {
	events, err := runlog.ReadEvents(e.run.Dir())
	if err != nil {
		s.logger.Warn("failed to read run events for planner", zap.Error(err))
	}
	if len(events) > 20 {
		events = events[len(events)-20:]
	}

	resp, err := s.planner.Plan(ctx, PlanRequest{
		Goal:           cur.Goal,
		TaskDefinition: cur.Raw(),
		FailureReason:  fail.reason,
		RecentEvents:   events,
	})
	if err != nil {
		s.logger.Warn("planner failed", zap.Error(err))
		return healResult{kind: healNone}
	}
	if resp == nil {
		return healResult{kind: healNone}
	}

	e.run.AppendEvent("self_heal", cur.ID, map[string]any{
		"root_cause":     resp.RootCause,
		"stop_condition": resp.StopCondition,
		"corrected":      len(resp.CorrectedTask) > 0,
	})

	if resp.StopCondition != "" {
		status := runlog.StatusEscalated
		if resp.StopCondition == "abort" {
			status = runlog.StatusAborted
		}
		return healResult{kind: healTerminal, status: status, reason: ReasonPlannerStop}
	}

	if len(resp.CorrectedTask) == 0 {
		return healResult{kind: healNone}
	}

	next, err := task.Parse(resp.CorrectedTask)
	if err != nil {
		s.logger.Warn("planner produced invalid task", zap.Error(err))
		return healResult{kind: healNone}
	}

	s.logger.Info("task corrected by planner", zap.String("task_id", next.ID))
	return healResult{kind: healContinue, next: next}
}

// signatureWindow is the bounded trailing window of failure signatures
// used for loop detection.
type signatureWindow struct {
	sigs []string
}

// record appends a signature and reports whether it now repeats often
// enough to declare a loop.
func (w *signatureWindow) record(reason, taskID string) bool {
	sig := fmt.Sprintf("%s|%s", reason, taskID)
	w.sigs = append(w.sigs, sig)
	if len(w.sigs) > loopWindowSize {
		w.sigs = w.sigs[len(w.sigs)-loopWindowSize:]
	}

	count := 0
	for _, s := range w.sigs {
		if s == sig {
			count++
		}
	}
	return count >= loopRepeatLimit
}
