// Package task defines the declarative unit of work the supervisor
// executes: its stop conditions, postconditions, and tool payload.
//
// Tasks are immutable value objects. Self-healing derives a new Task from
// a corrected definition; nothing mutates a Task after Parse returns it.
package task

import (
	"errors"
	"fmt"
)

// Type selects which tool adapter executes a task.
type Type string

const (
	TypeCommand   Type = "command"
	TypeScript    Type = "script"
	TypeFileOp    Type = "file_op"
	TypeNetwork   Type = "network"
	TypeUI        Type = "ui"
	TypeComposite Type = "composite"
	TypeHuman     Type = "human"
	TypeNotify    Type = "notify"
	TypeReview    Type = "review"
	TypeResearch  Type = "research"
)

// Valid reports whether the type is part of the closed enumeration.
func (t Type) Valid() bool {
	switch t {
	case TypeCommand, TypeScript, TypeFileOp, TypeNetwork, TypeUI,
		TypeComposite, TypeHuman, TypeNotify, TypeReview, TypeResearch:
		return true
	}
	return false
}

// OnFail is the policy applied when a task exhausts its attempts.
type OnFail string

const (
	OnFailRetry    OnFail = "retry"
	OnFailEscalate OnFail = "escalate"
	OnFailAbort    OnFail = "abort"
)

// Valid reports whether the policy is known.
func (o OnFail) Valid() bool {
	return o == OnFailRetry || o == OnFailEscalate || o == OnFailAbort
}

// Default stop rules applied when a definition omits them.
const (
	DefaultMaxAttempts  = 3
	DefaultMaxMinutes   = 30
	DefaultMaxToolCalls = 50
)

// ErrValidation indicates a task definition failed validation.
var ErrValidation = errors.New("invalid task definition")

// StopRules caps attempts, elapsed time, and tool invocations for one
// task execution. Enforced by the supervisor, never by tool adapters.
type StopRules struct {
	MaxAttempts  int `koanf:"max_attempts" json:"max_attempts"`
	MaxMinutes   int `koanf:"max_minutes" json:"max_minutes"`
	MaxToolCalls int `koanf:"max_tool_calls" json:"max_tool_calls"`
}

// VerifierSpec names a postcondition check and its arguments, resolved
// against the verifier registry at execution time.
type VerifierSpec struct {
	ID   string         `koanf:"id" json:"id"`
	Args map[string]any `koanf:"args" json:"args,omitempty"`
}

// Task is one declarative unit of work.
type Task struct {
	// ID is the stable identifier for this task.
	ID string `koanf:"id" json:"id"`

	// Name is the human-readable task name.
	Name string `koanf:"name" json:"name"`

	// Type selects the tool adapter; composite tasks sequence Steps instead.
	Type Type `koanf:"type" json:"type"`

	// Goal describes what the task is trying to achieve.
	Goal string `koanf:"goal" json:"goal"`

	// DefinitionOfDone is the free-text completion criterion.
	DefinitionOfDone string `koanf:"definition_of_done" json:"definition_of_done,omitempty"`

	StopRules StopRules `koanf:"stop_rules" json:"stop_rules"`

	// OnFail is applied when attempts are exhausted. Defaults to escalate.
	OnFail OnFail `koanf:"on_fail" json:"on_fail"`

	// Verifications are checked in order after every execution.
	Verifications []VerifierSpec `koanf:"verifications" json:"verifications,omitempty"`

	// AllowedPaths restricts filesystem writes. Empty means unrestricted.
	AllowedPaths []string `koanf:"allowed_paths" json:"allowed_paths,omitempty"`

	// AllowedTools restricts tool dispatch. Empty means unrestricted.
	AllowedTools []string `koanf:"allowed_tools" json:"allowed_tools,omitempty"`

	// RequiresHuman marks a leaf that hands off to a human and waits.
	RequiresHuman bool `koanf:"requires_human" json:"requires_human,omitempty"`

	// Steps are the ordered children of a composite task. A leaf task's
	// Steps list is empty; a composite task's payload fields are unused.
	Steps []Task `koanf:"steps" json:"steps,omitempty"`

	// Typed payload fields consumed by the resolved tool adapter.
	Command string `koanf:"command" json:"command,omitempty"`
	Script  string `koanf:"script" json:"script,omitempty"`
	Path    string `koanf:"path" json:"path,omitempty"`
	Content string `koanf:"content" json:"content,omitempty"`
	URL     string `koanf:"url" json:"url,omitempty"`
	Method  string `koanf:"method" json:"method,omitempty"`
	Target  string `koanf:"target" json:"target,omitempty"`
	Message string `koanf:"message" json:"message,omitempty"`

	raw []byte
}

// Raw returns the definition bytes this task was parsed from.
func (t *Task) Raw() []byte {
	return t.raw
}

// IsComposite reports whether the task sequences child steps.
func (t *Task) IsComposite() bool {
	return t.Type == TypeComposite
}

// Validate checks the task and all children recursively.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: name is required (task %s)", ErrValidation, t.ID)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: type is required (task %s)", ErrValidation, t.ID)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q (task %s)", ErrValidation, t.Type, t.ID)
	}
	if t.Goal == "" {
		return fmt.Errorf("%w: goal is required (task %s)", ErrValidation, t.ID)
	}
	if !t.OnFail.Valid() {
		return fmt.Errorf("%w: unknown on_fail policy %q (task %s)", ErrValidation, t.OnFail, t.ID)
	}
	if err := t.StopRules.validate(t.ID); err != nil {
		return err
	}
	for i, v := range t.Verifications {
		if v.ID == "" {
			return fmt.Errorf("%w: verification %d has no id (task %s)", ErrValidation, i, t.ID)
		}
	}
	if t.IsComposite() {
		if len(t.Steps) == 0 {
			return fmt.Errorf("%w: composite task %s has no steps", ErrValidation, t.ID)
		}
		for i := range t.Steps {
			if err := t.Steps[i].Validate(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	} else if len(t.Steps) > 0 {
		return fmt.Errorf("%w: leaf task %s declares steps", ErrValidation, t.ID)
	}
	return nil
}

// validate rejects stop rules below their minimums. Values are never
// clamped; absent fields were defaulted during parse.
func (s StopRules) validate(taskID string) error {
	if s.MaxAttempts < 1 {
		return fmt.Errorf("%w: stop_rules.max_attempts must be >= 1, got %d (task %s)", ErrValidation, s.MaxAttempts, taskID)
	}
	if s.MaxMinutes < 1 {
		return fmt.Errorf("%w: stop_rules.max_minutes must be >= 1, got %d (task %s)", ErrValidation, s.MaxMinutes, taskID)
	}
	if s.MaxToolCalls < 1 {
		return fmt.Errorf("%w: stop_rules.max_tool_calls must be >= 1, got %d (task %s)", ErrValidation, s.MaxToolCalls, taskID)
	}
	return nil
}
