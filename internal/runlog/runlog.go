// Package runlog owns the on-disk run directory: the task definition
// copy, the append-only event log and execution trace, the final outcome
// document, and the handoff markers. Every artifact a run produces lives
// under one directory so a run can be audited or replayed without
// re-executing it.
package runlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/task"
)

// Run directory artifact names.
const (
	taskFile       = "task.yaml"
	eventsFile     = "events.jsonl"
	traceFile      = "trace.jsonl"
	outcomeFile    = "outcome.json"
	handoffMarker  = "HANDOFF_WAITING"
	resumeMarker   = "HANDOFF_RESUME"
	checkpointsDir = "checkpoints"
)

// Terminal statuses. A run is finalized with exactly one of these.
const (
	StatusSuccess   = "success"
	StatusEscalated = "escalated"
	StatusAborted   = "aborted"
)

// ErrFinalized indicates a second finalization attempt.
var ErrFinalized = errors.New("run already finalized")

// Outcome is the final outcome document for a run.
type Outcome struct {
	RunID      string    `json:"run_id"`
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	ToolCalls  int       `json:"tool_calls"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Event is one structured record in the append-only event log.
type Event struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"`
	TaskID string         `json:"task_id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// TraceEntry records one tool invocation with enough detail to replay it.
type TraceEntry struct {
	Time    time.Time      `json:"time"`
	TaskID  string         `json:"task_id"`
	Tool    string         `json:"tool"`
	Inputs  map[string]any `json:"inputs,omitempty"`
	Result  any            `json:"result,omitempty"`
	Attempt int            `json:"attempt"`
}

// Run is one execution attempt series for a task.
type Run struct {
	id        string
	dir       string
	taskID    string
	startedAt time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	events    *os.File
	trace     *os.File
	finalized bool
}

// New creates a run directory under root and records the task
// definition. The run id is the start timestamp plus the task id.
func New(root string, t *task.Task, logger *zap.Logger) (*Run, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	started := time.Now()
	id := fmt.Sprintf("%s-%s", started.UTC().Format("20060102T150405"), t.ID)
	dir := filepath.Join(root, id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	if raw := t.Raw(); len(raw) > 0 {
		if err := os.WriteFile(filepath.Join(dir, taskFile), raw, 0o644); err != nil {
			return nil, fmt.Errorf("failed to record task definition: %w", err)
		}
	}

	events, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	trace, err := os.OpenFile(filepath.Join(dir, traceFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("failed to open trace log: %w", err)
	}

	return &Run{
		id:        id,
		dir:       dir,
		taskID:    t.ID,
		startedAt: started,
		logger:    logger.Named("run").With(zap.String("run_id", id)),
		events:    events,
		trace:     trace,
	}, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Dir returns the run directory path.
func (r *Run) Dir() string { return r.dir }

// StartedAt returns the run start time.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// CheckpointDir returns the checkpoint subdirectory path. It is not
// created until a checkpoint is saved.
func (r *Run) CheckpointDir() string {
	return filepath.Join(r.dir, checkpointsDir)
}

// AppendEvent writes one structured event record.
func (r *Run) AppendEvent(eventType, taskID string, fields map[string]any) error {
	rec := Event{
		Time:   time.Now(),
		Type:   eventType,
		TaskID: taskID,
		Fields: fields,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return appendJSON(r.events, rec)
}

// AppendTrace writes one execution trace entry.
func (r *Run) AppendTrace(entry TraceEntry) error {
	entry.Time = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	return appendJSON(r.trace, entry)
}

// Finalize writes the outcome document and closes the run. A run is
// finalized exactly once; later calls fail with ErrFinalized.
func (r *Run) Finalize(outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}

	outcome.RunID = r.id
	outcome.TaskID = r.taskID
	outcome.StartedAt = r.startedAt
	outcome.FinishedAt = time.Now()

	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	// Write atomically so a partially written outcome is never observed.
	path := filepath.Join(r.dir, outcomeFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename outcome: %w", err)
	}

	r.finalized = true
	r.events.Close()
	r.trace.Close()

	r.logger.Info("run finalized",
		zap.String("status", outcome.Status),
		zap.String("reason", outcome.Reason),
		zap.Int("attempts", outcome.Attempts),
	)
	return nil
}

// Finalized reports whether the run has been finalized.
func (r *Run) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// WriteHandoffMarker writes the HANDOFF_WAITING marker with the reason
// a human is needed.
func (r *Run) WriteHandoffMarker(reason string) error {
	return os.WriteFile(filepath.Join(r.dir, handoffMarker), []byte(reason+"\n"), 0o644)
}

// ClearHandoffMarker removes the waiting marker after handoff resolves.
func (r *Run) ClearHandoffMarker() {
	os.Remove(filepath.Join(r.dir, handoffMarker))
}

// ResumeMarkerPath returns the path whose existence signals resume.
func (r *Run) ResumeMarkerPath() string {
	return filepath.Join(r.dir, resumeMarker)
}

// ResumeSignaled reports whether the resume marker exists.
func (r *Run) ResumeSignaled() bool {
	_, err := os.Stat(r.ResumeMarkerPath())
	return err == nil
}

// LoadOutcome reads a finalized outcome document from a run directory.
// Returns nil without error when the run has not finalized yet.
func LoadOutcome(dir string) (*Outcome, error) {
	data, err := os.ReadFile(filepath.Join(dir, outcomeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read outcome: %w", err)
	}

	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, fmt.Errorf("corrupt outcome document: %w", err)
	}
	return &outcome, nil
}

// ReadEvents loads every event record from a run directory, in order.
func ReadEvents(dir string) ([]Event, error) {
	data, err := os.ReadFile(filepath.Join(dir, eventsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("corrupt event log: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func appendJSON(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}
