package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesa/overseer/internal/task"
)

type fakeAdapter struct {
	result *Result
	err    error
}

func (a *fakeAdapter) Execute(context.Context, *task.Task, map[string]any) (*Result, error) {
	if a.result == nil && a.err == nil {
		return &Result{Success: true}, nil
	}
	return a.result, a.err
}

func leafTask(typ task.Type) *task.Task {
	return &task.Task{
		ID:   "t1",
		Name: "test task",
		Type: typ,
		Goal: "exercise the registry",
		StopRules: task.StopRules{
			MaxAttempts:  1,
			MaxMinutes:   1,
			MaxToolCalls: 1,
		},
		OnFail: task.OnFailEscalate,
	}
}

func TestRegister_And_Get(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "notify", Adapter: &fakeAdapter{}}))

	spec, err := r.Get("notify")
	require.NoError(t, err)
	assert.Equal(t, "notify", spec.Name)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "notify", Adapter: &fakeAdapter{}}))
	err := r.Register(Spec{Name: "notify", Adapter: &fakeAdapter{}})
	assert.ErrorIs(t, err, ErrDuplicateTool)
}

func TestRegister_Invalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Spec{Name: "", Adapter: &fakeAdapter{}}))
	assert.Error(t, r.Register(Spec{Name: "x", Adapter: nil}))
}

func TestList_Sorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "shell", Adapter: &fakeAdapter{}}))
	require.NoError(t, r.Register(Spec{Name: "file", Adapter: &fakeAdapter{}}))
	require.NoError(t, r.Register(Spec{Name: "notify", Adapter: &fakeAdapter{}}))

	specs := r.List()
	require.Len(t, specs, 3)
	assert.Equal(t, "file", specs[0].Name)
	assert.Equal(t, "notify", specs[1].Name)
	assert.Equal(t, "shell", specs[2].Name)
}

func TestResolve_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(leafTask(task.TypeCommand))
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestResolve_NoToolForType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(leafTask(task.TypeComposite))
	assert.ErrorIs(t, err, ErrNoToolForType)

	_, err = r.Resolve(leafTask(task.TypeHuman))
	assert.ErrorIs(t, err, ErrNoToolForType)
}

func TestResolve_AllowList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "shell", Adapter: &fakeAdapter{}}))

	tk := leafTask(task.TypeCommand)
	tk.AllowedTools = []string{"notify"}
	_, err := r.Resolve(tk)
	assert.ErrorIs(t, err, ErrToolNotAllowed)

	tk.AllowedTools = []string{"shell", "notify"}
	_, err = r.Resolve(tk)
	assert.NoError(t, err)

	// Empty allow-list means unrestricted.
	tk.AllowedTools = nil
	_, err = r.Resolve(tk)
	assert.NoError(t, err)
}

func TestResolve_UnsafeGate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "shell", Adapter: &fakeAdapter{}, Dangerous: true}))

	_, err := r.Resolve(leafTask(task.TypeCommand))
	assert.ErrorIs(t, err, ErrUnsafeTool)

	unsafe := NewRegistry(WithUnsafe())
	require.NoError(t, unsafe.Register(Spec{Name: "shell", Adapter: &fakeAdapter{}, Dangerous: true}))
	_, err = unsafe.Resolve(leafTask(task.TypeCommand))
	assert.NoError(t, err)
}

func TestResolve_UnsafeEnvOverride(t *testing.T) {
	t.Setenv(unsafeEnvVar, "1")
	r := NewRegistry()
	assert.True(t, r.UnsafeEnabled())

	t.Setenv(unsafeEnvVar, "")
	r = NewRegistry()
	assert.False(t, r.UnsafeEnabled())
}

func TestBuildInputs(t *testing.T) {
	tk := leafTask(task.TypeFileOp)
	tk.Path = "out.txt"
	tk.Content = "hello"

	inputs := BuildInputs(tk)
	assert.Equal(t, "out.txt", inputs["path"])
	assert.Equal(t, "hello", inputs["content"])
	_, hasCommand := inputs["command"]
	assert.False(t, hasCommand)
}
