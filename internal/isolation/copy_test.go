package isolation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "readme.md"), []byte("# readme\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	return dir
}

func TestCreate_CopiesWorkspace(t *testing.T) {
	src := newWorkspace(t)
	s, err := NewCopySandbox(src, t.TempDir(), nil)
	require.NoError(t, err)

	dir, err := s.Create("t1")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "main.go"))
	assert.FileExists(t, filepath.Join(dir, "docs", "readme.md"))
	assert.NoDirExists(t, filepath.Join(dir, ".git"))
}

func TestCreate_Idempotent(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)

	first, err := s.Create("t1")
	require.NoError(t, err)
	second, err := s.Create("t1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewCopySandbox_MissingSource(t *testing.T) {
	_, err := NewCopySandbox("/nonexistent/workspace", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestChanges_Empty(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Create("t1")
	require.NoError(t, err)

	changes, err := s.Changes("t1")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestChanges_AddedAndModified(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)

	dir, err := s.Create("t1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main // edited\n"), 0o644))

	changes, err := s.Changes("t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]ChangeKind{
		"new.txt": ChangeAdded,
		"main.go": ChangeModified,
	}, changes)
}

func TestChanges_UnknownTask(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Changes("ghost")
	assert.ErrorIs(t, err, ErrNotIsolated)
}

func TestApply_CopiesChangedFiles(t *testing.T) {
	src := newWorkspace(t)
	s, err := NewCopySandbox(src, t.TempDir(), nil)
	require.NoError(t, err)

	dir, err := s.Create("t1")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "util.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main // v2\n"), 0o644))

	require.NoError(t, s.Apply("t1", src))

	data, err := os.ReadFile(filepath.Join(src, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main // v2\n", string(data))
	assert.FileExists(t, filepath.Join(src, "pkg", "util.go"))

	// Untouched files keep their original content.
	data, err = os.ReadFile(filepath.Join(src, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "# readme\n", string(data))
}

func TestCleanup_RemovesSandbox(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)

	dir, err := s.Create("t1")
	require.NoError(t, err)

	require.NoError(t, s.Cleanup("t1"))
	assert.NoDirExists(t, dir)

	_, ok := s.Path("t1")
	assert.False(t, ok)
}

func TestCleanup_UnknownTask(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)
	assert.NoError(t, s.Cleanup("ghost"))
}

func TestCleanupAll(t *testing.T) {
	s, err := NewCopySandbox(newWorkspace(t), t.TempDir(), nil)
	require.NoError(t, err)

	d1, err := s.Create("t1")
	require.NoError(t, err)
	d2, err := s.Create("t2")
	require.NoError(t, err)

	s.CleanupAll()
	assert.NoDirExists(t, d1)
	assert.NoDirExists(t, d2)
}
