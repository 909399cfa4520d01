package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_And_Load(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	state := map[string]any{"phase": "verify", "attempt": 2}
	require.NoError(t, m.Save(ctx, 1, state))

	cp, err := m.Load(1)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.Step)
	assert.False(t, cp.Timestamp.IsZero())

	var got map[string]any
	require.NoError(t, json.Unmarshal(cp.State, &got))
	assert.Equal(t, "verify", got["phase"])
}

func TestSave_DuplicateStep(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, 1, "a"))
	err := m.Save(ctx, 1, "b")
	assert.ErrorIs(t, err, ErrDuplicateStep)
}

func TestLoad_Absent(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	cp, err := m.Load(42)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestList_Ascending(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	for _, step := range []int{5, 1, 3} {
		require.NoError(t, m.Save(ctx, step, step))
	}

	steps, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, steps)
}

func TestList_EmptyDir(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	steps, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestLatest(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	_, ok, err := m.Latest()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Save(ctx, 2, "a"))
	require.NoError(t, m.Save(ctx, 7, "b"))

	latest, ok, err := m.Latest()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, latest)
}

func TestCleanupOld(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	for step := 1; step <= 10; step++ {
		require.NoError(t, m.Save(ctx, step, step))
	}

	deleted, err := m.CleanupOld(3)
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)

	steps, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 9, 10}, steps)
}

func TestCleanupOld_NothingToDelete(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, 1, "a"))

	deleted, err := m.CleanupOld(5)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
