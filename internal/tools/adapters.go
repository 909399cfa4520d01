package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/task"
)

// BuildInputs assembles the adapter input payload from a task's typed
// fields. Empty fields are omitted.
func BuildInputs(t *task.Task) map[string]any {
	inputs := make(map[string]any)
	for key, val := range map[string]string{
		"command": t.Command,
		"script":  t.Script,
		"path":    t.Path,
		"content": t.Content,
		"url":     t.URL,
		"method":  t.Method,
		"target":  t.Target,
		"message": t.Message,
	} {
		if val != "" {
			inputs[key] = val
		}
	}
	return inputs
}

// NotifyAdapter delivers a task's message to the log. It is the one
// always-safe built-in; everything with side effects outside the run
// directory is registered by the caller.
type NotifyAdapter struct {
	logger *zap.Logger
}

// NewNotifyAdapter creates a notify adapter.
func NewNotifyAdapter(logger *zap.Logger) *NotifyAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyAdapter{logger: logger}
}

// Execute logs the notification message.
func (a *NotifyAdapter) Execute(_ context.Context, t *task.Task, inputs map[string]any) (*Result, error) {
	msg, _ := inputs["message"].(string)
	if msg == "" {
		return &Result{Success: false, Error: "notify task has no message"}, nil
	}

	a.logger.Info("notification",
		zap.String("task_id", t.ID),
		zap.String("message", msg),
	)
	return &Result{
		Success: true,
		Output:  map[string]any{"delivered": true, "message": msg},
	}, nil
}

// FileAdapter writes a task's content to a path inside a sandbox root.
// Writes escaping the root or a non-empty allowed-paths list fail.
type FileAdapter struct {
	root string
}

// NewFileAdapter creates a file adapter rooted at the given directory.
func NewFileAdapter(root string) *FileAdapter {
	return &FileAdapter{root: root}
}

// Execute writes content to the task's path, creating parents as needed.
func (a *FileAdapter) Execute(_ context.Context, t *task.Task, inputs map[string]any) (*Result, error) {
	rel, _ := inputs["path"].(string)
	if rel == "" {
		return &Result{Success: false, Error: "file task has no path"}, nil
	}

	if len(t.AllowedPaths) > 0 && !pathAllowed(rel, t.AllowedPaths) {
		return &Result{Success: false, Error: fmt.Sprintf("path %s is outside the task's allowed paths", rel)}, nil
	}

	dest := filepath.Join(a.root, rel)
	cleanRoot := filepath.Clean(a.root) + string(filepath.Separator)
	if !strings.HasPrefix(dest+string(filepath.Separator), cleanRoot) {
		return &Result{Success: false, Error: fmt.Sprintf("path %s escapes the sandbox root", rel)}, nil
	}

	content, _ := inputs["content"].(string)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &Result{
		Success:  true,
		Output:   map[string]any{"path": dest, "bytes": len(content)},
		Metadata: map[string]any{"root": a.root},
	}, nil
}

func pathAllowed(path string, allowed []string) bool {
	clean := filepath.Clean(path)
	for _, prefix := range allowed {
		p := filepath.Clean(prefix)
		if clean == p || strings.HasPrefix(clean, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
