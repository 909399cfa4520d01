package isolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_And_Release(t *testing.T) {
	c := NewConflictDetector()

	assert.True(t, c.Acquire("db/schema.sql", "taskA"))
	assert.False(t, c.Acquire("db/schema.sql", "taskB"))

	// Re-acquiring an already-held resource succeeds.
	assert.True(t, c.Acquire("db/schema.sql", "taskA"))

	assert.True(t, c.Release("db/schema.sql", "taskA"))
	assert.True(t, c.Acquire("db/schema.sql", "taskB"))
}

func TestRelease_NotHolder(t *testing.T) {
	c := NewConflictDetector()

	require.True(t, c.Acquire("file.txt", "taskA"))
	assert.False(t, c.Release("file.txt", "taskB"))

	holder, ok := c.Holder("file.txt")
	assert.True(t, ok)
	assert.Equal(t, "taskA", holder)
}

func TestRelease_Unheld(t *testing.T) {
	c := NewConflictDetector()
	assert.False(t, c.Release("never-held", "taskA"))
}

func TestDetectConflicts(t *testing.T) {
	conflicts := DetectConflicts(map[string][]string{
		"taskA": {"f1", "f2"},
		"taskB": {"f1", "f3"},
	})

	require.Len(t, conflicts, 1)
	assert.Equal(t, "f1", conflicts[0].Path)
	assert.Equal(t, []string{"taskA", "taskB"}, conflicts[0].Tasks)
}

func TestDetectConflicts_None(t *testing.T) {
	conflicts := DetectConflicts(map[string][]string{
		"taskA": {"f1"},
		"taskB": {"f2"},
	})
	assert.Empty(t, conflicts)
}

func TestDetectConflicts_SortedOutput(t *testing.T) {
	conflicts := DetectConflicts(map[string][]string{
		"z": {"b", "a"},
		"y": {"b", "a"},
		"x": {"a"},
	})

	require.Len(t, conflicts, 2)
	assert.Equal(t, "a", conflicts[0].Path)
	assert.Equal(t, "b", conflicts[1].Path)
	assert.Equal(t, []string{"x", "y", "z"}, conflicts[0].Tasks)
	assert.Equal(t, []string{"y", "z"}, conflicts[1].Tasks)
}
