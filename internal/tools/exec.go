package tools

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/stackmesa/overseer/internal/task"
)

// ShellAdapter runs a task's command through the shell in a fixed
// working directory. It is dangerous: arbitrary command execution is
// gated behind unsafe mode by registration.
type ShellAdapter struct {
	workDir string
}

// NewShellAdapter creates a shell adapter executing in workDir.
func NewShellAdapter(workDir string) *ShellAdapter {
	return &ShellAdapter{workDir: workDir}
}

// Execute runs the command and reports its exit code, stdout, and
// stderr. A non-zero exit is a tool-reported failure, not an error.
func (a *ShellAdapter) Execute(ctx context.Context, _ *task.Task, inputs map[string]any) (*Result, error) {
	command, _ := inputs["command"].(string)
	if command == "" {
		return &Result{Success: false, Error: "command task has no command"}, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = a.workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	result := &Result{
		Success: exitCode == 0,
		Output: map[string]any{
			"exit_code": exitCode,
			"stdout":    stdout.String(),
			"stderr":    stderr.String(),
		},
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("command exited with code %d", exitCode)
	}
	return result, nil
}

// ScriptAdapter writes a task's script to a temporary file and runs
// it. Dangerous for the same reason the shell adapter is.
type ScriptAdapter struct {
	workDir string
}

// NewScriptAdapter creates a script adapter executing in workDir.
func NewScriptAdapter(workDir string) *ScriptAdapter {
	return &ScriptAdapter{workDir: workDir}
}

// Execute materializes and runs the script.
func (a *ScriptAdapter) Execute(ctx context.Context, t *task.Task, inputs map[string]any) (*Result, error) {
	script, _ := inputs["script"].(string)
	if script == "" {
		return &Result{Success: false, Error: "script task has no script"}, nil
	}

	f, err := os.CreateTemp("", "overseer-script-*.sh")
	if err != nil {
		return nil, fmt.Errorf("failed to create script file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write script: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	shell := ShellAdapter{workDir: a.workDir}
	return shell.Execute(ctx, t, map[string]any{"command": "sh " + filepath.ToSlash(path)})
}

// defaultHTTPTimeout bounds one network-task request.
const defaultHTTPTimeout = 30 * time.Second

// HTTPAdapter performs a task's network request and exposes the
// response status to verifiers.
type HTTPAdapter struct {
	client *http.Client
}

// NewHTTPAdapter creates an http adapter. A nil client gets a default
// with a request timeout.
func NewHTTPAdapter(client *http.Client) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPAdapter{client: client}
}

// Execute issues the request. Any response counts as adapter success;
// status expectations belong to verifiers.
func (a *HTTPAdapter) Execute(ctx context.Context, _ *task.Task, inputs map[string]any) (*Result, error) {
	url, _ := inputs["url"].(string)
	if url == "" {
		return &Result{Success: false, Error: "network task has no url"}, nil
	}
	method, _ := inputs["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid request: %v", err)}, nil
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	return &Result{
		Success: true,
		Output: map[string]any{
			"status_code": resp.StatusCode,
			"url":         url,
			"method":      method,
		},
	}, nil
}
