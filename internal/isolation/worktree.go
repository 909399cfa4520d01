package isolation

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// WorktreeManager isolates tasks as linked git worktrees, each on its
// own branch named overseer/<runID>/<taskID>. The repository's object
// store is shared, so creation is cheap regardless of tree size.
//
// go-git has no support for linked worktrees, so the checkout itself is
// delegated to the git binary; branch inspection and deletion go
// through go-git.
type WorktreeManager struct {
	repoPath string
	root     string
	runID    string
	logger   *zap.Logger

	mu        sync.Mutex
	worktrees map[string]string
}

// NewWorktreeManager creates a worktree-based isolator for the
// repository at repoPath. Worktree checkouts are placed under root.
func NewWorktreeManager(repoPath, root, runID string, logger *zap.Logger) (*WorktreeManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate up front that this is a git repository with a resolvable
	// HEAD; a bare directory cannot host worktrees.
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", repoPath, err)
	}
	if _, err := repo.Head(); err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	return &WorktreeManager{
		repoPath:  repoPath,
		root:      root,
		runID:     runID,
		logger:    logger.Named("worktree"),
		worktrees: make(map[string]string),
	}, nil
}

// BranchName returns the branch a task's worktree is created on.
func (w *WorktreeManager) BranchName(taskID string) string {
	return fmt.Sprintf("overseer/%s/%s", w.runID, taskID)
}

// Create checks out a new worktree for the task on its own branch and
// returns the worktree path. Idempotent per task id.
func (w *WorktreeManager) Create(taskID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir, ok := w.worktrees[taskID]; ok {
		return dir, nil
	}

	dir := filepath.Join(w.root, taskID)
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorktreeCreate, err)
	}

	branch := w.BranchName(taskID)
	cmd := exec.Command("git", "-C", w.repoPath, "worktree", "add", "-b", branch, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrWorktreeCreate, err, strings.TrimSpace(string(out)))
	}

	w.worktrees[taskID] = dir
	w.logger.Debug("created worktree",
		zap.String("task_id", taskID),
		zap.String("branch", branch),
		zap.String("dir", dir),
	)
	return dir, nil
}

// Path returns the worktree directory for a task, if one exists.
func (w *WorktreeManager) Path(taskID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, ok := w.worktrees[taskID]
	return dir, ok
}

// Changes lists files in the task's worktree that differ from HEAD,
// keyed by repository-relative path.
func (w *WorktreeManager) Changes(taskID string) (map[string]ChangeKind, error) {
	dir, ok := w.Path(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIsolated, taskID)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to access worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	changes := make(map[string]ChangeKind)
	for path, st := range status {
		switch {
		case st.Worktree == git.Untracked:
			changes[path] = ChangeAdded
		case st.Worktree != git.Unmodified || st.Staging != git.Unmodified:
			changes[path] = ChangeModified
		}
	}
	return changes, nil
}

// Cleanup removes the task's worktree and deletes its branch. The
// worktree is forgotten even when removal fails, so a stuck checkout
// cannot wedge the run.
func (w *WorktreeManager) Cleanup(taskID string) error {
	w.mu.Lock()
	dir, ok := w.worktrees[taskID]
	delete(w.worktrees, taskID)
	w.mu.Unlock()

	if !ok {
		return nil
	}
	return w.remove(taskID, dir)
}

// CleanupAll removes every worktree, logging failures rather than
// stopping on them.
func (w *WorktreeManager) CleanupAll() {
	w.mu.Lock()
	dirs := make(map[string]string, len(w.worktrees))
	for id, dir := range w.worktrees {
		dirs[id] = dir
	}
	w.worktrees = make(map[string]string)
	w.mu.Unlock()

	for id, dir := range dirs {
		if err := w.remove(id, dir); err != nil {
			w.logger.Warn("failed to remove worktree",
				zap.String("task_id", id),
				zap.Error(err),
			)
		}
	}
}

func (w *WorktreeManager) remove(taskID, dir string) error {
	cmd := exec.Command("git", "-C", w.repoPath, "worktree", "remove", "--force", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to remove worktree: %v: %s", err, strings.TrimSpace(string(out)))
	}

	// Branch deletion is best effort; the worktree itself is gone.
	repo, err := git.PlainOpen(w.repoPath)
	if err == nil {
		ref := plumbing.NewBranchReferenceName(w.BranchName(taskID))
		if err := repo.Storer.RemoveReference(ref); err != nil {
			w.logger.Debug("failed to delete branch",
				zap.String("branch", w.BranchName(taskID)),
				zap.Error(err),
			)
		}
	}
	return nil
}
