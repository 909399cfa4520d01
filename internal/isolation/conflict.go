package isolation

import (
	"sort"
	"sync"
)

// Conflict is one file path changed by two or more tasks.
type Conflict struct {
	Path  string
	Tasks []string
}

// ConflictDetector serializes access to named resources while tasks
// run, and reports overlapping file changes after they finish. Locks
// are advisory: acquisition never blocks, callers decide what a denied
// lock means.
type ConflictDetector struct {
	mu    sync.Mutex
	locks map[string]string
}

// NewConflictDetector creates an empty detector.
func NewConflictDetector() *ConflictDetector {
	return &ConflictDetector{locks: make(map[string]string)}
}

// Acquire claims a resource for a task. Returns false when another
// task already holds it. Re-acquiring a resource a task already holds
// succeeds.
func (c *ConflictDetector) Acquire(resource, taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	holder, held := c.locks[resource]
	if held && holder != taskID {
		return false
	}
	c.locks[resource] = taskID
	return true
}

// Release gives up a resource. Returns false when the task does not
// hold it.
func (c *ConflictDetector) Release(resource, taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locks[resource] != taskID {
		return false
	}
	delete(c.locks, resource)
	return true
}

// Holder returns the task currently holding a resource, if any.
func (c *ConflictDetector) Holder(resource string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	holder, ok := c.locks[resource]
	return holder, ok
}

// DetectConflicts takes the changed paths of each finished task and
// returns every path touched by more than one, sorted by path with the
// involved tasks sorted within each conflict.
func DetectConflicts(changesByTask map[string][]string) []Conflict {
	byPath := make(map[string][]string)
	for taskID, paths := range changesByTask {
		for _, path := range paths {
			byPath[path] = append(byPath[path], taskID)
		}
	}

	var conflicts []Conflict
	for path, tasks := range byPath {
		if len(tasks) < 2 {
			continue
		}
		sort.Strings(tasks)
		conflicts = append(conflicts, Conflict{Path: path, Tasks: tasks})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Path < conflicts[j].Path
	})
	return conflicts
}
