package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesa/overseer/internal/task"
)

func TestNotifyAdapter(t *testing.T) {
	a := NewNotifyAdapter(nil)
	tk := leafTask(task.TypeNotify)
	tk.Message = "build finished"

	res, err := a.Execute(context.Background(), tk, BuildInputs(tk))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "build finished", res.Output["message"])
}

func TestNotifyAdapter_NoMessage(t *testing.T) {
	a := NewNotifyAdapter(nil)
	tk := leafTask(task.TypeNotify)

	res, err := a.Execute(context.Background(), tk, BuildInputs(tk))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no message")
}

func TestFileAdapter_Write(t *testing.T) {
	root := t.TempDir()
	a := NewFileAdapter(root)

	tk := leafTask(task.TypeFileOp)
	tk.Path = filepath.Join("sub", "out.txt")
	tk.Content = "hello"

	res, err := a.Execute(context.Background(), tk, BuildInputs(tk))
	require.NoError(t, err)
	require.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(root, "sub", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileAdapter_EscapeBlocked(t *testing.T) {
	a := NewFileAdapter(t.TempDir())

	tk := leafTask(task.TypeFileOp)
	tk.Path = "../escape.txt"
	tk.Content = "nope"

	res, err := a.Execute(context.Background(), tk, BuildInputs(tk))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "escapes")
}

func TestFileAdapter_AllowedPaths(t *testing.T) {
	a := NewFileAdapter(t.TempDir())

	tk := leafTask(task.TypeFileOp)
	tk.AllowedPaths = []string{"docs"}
	tk.Path = "src/main.go"
	tk.Content = "x"

	res, err := a.Execute(context.Background(), tk, BuildInputs(tk))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "allowed paths")

	tk.Path = "docs/readme.md"
	res, err = a.Execute(context.Background(), tk, BuildInputs(tk))
	require.NoError(t, err)
	assert.True(t, res.Success)
}
