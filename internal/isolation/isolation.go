// Package isolation gives each task its own copy of the shared
// workspace so parallel runs cannot corrupt each other: either a full
// directory copy or a git worktree on a dedicated branch. The conflict
// detector reports paths touched by more than one task after all runs
// finish.
package isolation

import "errors"

// Errors for isolation setup.
var (
	ErrSandboxCreate  = errors.New("failed to create sandbox")
	ErrWorktreeCreate = errors.New("failed to create worktree")
	ErrNotIsolated    = errors.New("no isolated workspace for task")
)

// ChangeKind classifies a file relative to the source tree.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
)

// Isolator is the common contract of both isolation strategies.
type Isolator interface {
	// Create returns an isolated workspace for the task, creating it on
	// first use. Idempotent per task id.
	Create(taskID string) (string, error)

	// Cleanup tears down one task's workspace.
	Cleanup(taskID string) error

	// CleanupAll tears down every workspace this isolator created,
	// tolerating individual failures.
	CleanupAll()
}

// excluded names are never copied into a sandbox: version-control
// metadata, prior isolation output, and dependency caches.
var excluded = map[string]bool{
	".git":         true,
	".overseer":    true,
	"node_modules": true,
	"__pycache__":  true,
}

func isExcluded(name string) bool {
	return excluded[name]
}
