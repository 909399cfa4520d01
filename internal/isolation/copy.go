package isolation

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// CopySandbox isolates tasks by copying the source workspace into a
// per-task directory under the sandbox root. Changes are detected by
// content hash against the source tree and applied back file by file.
type CopySandbox struct {
	source string
	root   string
	logger *zap.Logger

	mu        sync.Mutex
	sandboxes map[string]string
}

// NewCopySandbox creates a copy-based isolator. source is the shared
// workspace being protected; root is where sandboxes are created.
func NewCopySandbox(source, root string, logger *zap.Logger) (*CopySandbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("source workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source workspace %s is not a directory", source)
	}

	return &CopySandbox{
		source:    source,
		root:      root,
		logger:    logger.Named("sandbox"),
		sandboxes: make(map[string]string),
	}, nil
}

// Create copies the source workspace into a sandbox for the task and
// returns its path. Calling it again for the same task returns the
// existing sandbox. A failed copy leaves nothing registered.
func (s *CopySandbox) Create(taskID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir, ok := s.sandboxes[taskID]; ok {
		return dir, nil
	}

	dir := filepath.Join(s.root, taskID)
	if err := copyTree(s.source, dir); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("%w: %v", ErrSandboxCreate, err)
	}

	s.sandboxes[taskID] = dir
	s.logger.Debug("created sandbox",
		zap.String("task_id", taskID),
		zap.String("dir", dir),
	)
	return dir, nil
}

// Path returns the sandbox directory for a task, if one exists.
func (s *CopySandbox) Path(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.sandboxes[taskID]
	return dir, ok
}

// Changes compares the sandbox against the source tree and returns the
// files that differ, keyed by path relative to the sandbox root.
func (s *CopySandbox) Changes(taskID string) (map[string]ChangeKind, error) {
	dir, ok := s.Path(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotIsolated, taskID)
	}

	changes := make(map[string]ChangeKind)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if isExcluded(d.Name()) && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		orig := filepath.Join(s.source, rel)
		if _, err := os.Stat(orig); os.IsNotExist(err) {
			changes[rel] = ChangeAdded
			return nil
		} else if err != nil {
			return err
		}

		same, err := sameContent(orig, path)
		if err != nil {
			return err
		}
		if !same {
			changes[rel] = ChangeModified
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff sandbox: %w", err)
	}
	return changes, nil
}

// Apply copies the task's changed files into target, creating parent
// directories as needed. Unchanged files are left alone.
func (s *CopySandbox) Apply(taskID, target string) error {
	changes, err := s.Changes(taskID)
	if err != nil {
		return err
	}
	dir, _ := s.Path(taskID)

	for rel := range changes {
		src := filepath.Join(dir, rel)
		dst := filepath.Join(target, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to apply %s: %w", rel, err)
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to apply %s: %w", rel, err)
		}
	}

	s.logger.Info("applied sandbox changes",
		zap.String("task_id", taskID),
		zap.Int("files", len(changes)),
	)
	return nil
}

// Cleanup removes one task's sandbox.
func (s *CopySandbox) Cleanup(taskID string) error {
	s.mu.Lock()
	dir, ok := s.sandboxes[taskID]
	delete(s.sandboxes, taskID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove sandbox: %w", err)
	}
	return nil
}

// CleanupAll removes every sandbox, logging failures rather than
// stopping on them.
func (s *CopySandbox) CleanupAll() {
	s.mu.Lock()
	dirs := make(map[string]string, len(s.sandboxes))
	for id, dir := range s.sandboxes {
		dirs[id] = dir
	}
	s.sandboxes = make(map[string]string)
	s.mu.Unlock()

	for id, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove sandbox",
				zap.String("task_id", id),
				zap.Error(err),
			)
		}
	}
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if isExcluded(d.Name()) && path != src {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}

		// Symlinks are skipped rather than followed so a sandbox can
		// never reference files outside itself.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sameContent(a, b string) (bool, error) {
	ha, err := hashFile(a)
	if err != nil {
		return false, err
	}
	hb, err := hashFile(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte

	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
