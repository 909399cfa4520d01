// Package tools provides capability-gated dispatch from task types to
// tool adapters. The registry is constructed explicitly and injected;
// there is no process-global state, and the unsafe-mode gate is fixed at
// construction time.
package tools

import (
	"context"
	"errors"

	"github.com/stackmesa/overseer/internal/task"
)

// Errors for tool dispatch.
var (
	ErrUnknownTool    = errors.New("unknown tool")
	ErrToolNotAllowed = errors.New("tool not in task allow-list")
	ErrUnsafeTool     = errors.New("unsafe tool blocked")
	ErrDuplicateTool  = errors.New("tool already registered")
	ErrNoToolForType  = errors.New("task type is not dispatched to a tool")
)

// Result is the uniform adapter output the supervisor and verifiers
// depend on. They never depend on adapter internals.
type Result struct {
	Success  bool           `json:"success"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Adapter executes one task against resolved inputs.
type Adapter interface {
	// Execute runs the tool. A tool-reported failure is a Result with
	// Success=false; the error return is for infrastructure failures.
	Execute(ctx context.Context, t *task.Task, inputs map[string]any) (*Result, error)
}

// Spec binds a tool name to an adapter and a danger classification.
// Specs are registered once at startup and read-only thereafter.
type Spec struct {
	Name      string
	Adapter   Adapter
	Dangerous bool
}

// toolForType maps each leaf task type to the tool that executes it.
// Composite and human tasks are handled by the supervisor directly.
var toolForType = map[task.Type]string{
	task.TypeCommand:  "shell",
	task.TypeScript:   "script",
	task.TypeFileOp:   "file",
	task.TypeNetwork:  "http",
	task.TypeUI:       "ui",
	task.TypeNotify:   "notify",
	task.TypeReview:   "review",
	task.TypeResearch: "research",
}

// ToolForType returns the tool name executing the given task type.
func ToolForType(t task.Type) (string, error) {
	name, ok := toolForType[t]
	if !ok {
		return "", ErrNoToolForType
	}
	return name, nil
}
