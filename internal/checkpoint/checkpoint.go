// Package checkpoint persists numbered progress snapshots for a run.
// Checkpoints are immutable JSON files totally ordered by step number;
// no two checkpoints within one run share a step.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/stackmesa/overseer/internal/checkpoint"

// ErrDuplicateStep indicates a checkpoint for the step already exists.
var ErrDuplicateStep = errors.New("checkpoint step already exists")

// Checkpoint is one immutable progress snapshot.
type Checkpoint struct {
	Step      int             `json:"step"`
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state"`
}

// Manager reads and writes checkpoints under one run's checkpoint
// directory.
type Manager struct {
	dir    string
	logger *zap.Logger

	saveCounter metric.Int64Counter
}

// NewManager creates a checkpoint manager rooted at dir. The directory
// is created on first save.
func NewManager(dir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{dir: dir, logger: logger.Named("checkpoint")}

	meter := otel.Meter(instrumentationName)
	var err error
	m.saveCounter, err = meter.Int64Counter(
		"overseer.checkpoint.saves_total",
		metric.WithDescription("Total number of checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		m.logger.Warn("failed to create save counter", zap.Error(err))
	}

	return m
}

// Save writes a new numbered snapshot. Steps are never overwritten.
func (m *Manager) Save(ctx context.Context, step int, state any) error {
	if step < 0 {
		return fmt.Errorf("checkpoint step must be >= 0, got %d", step)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := m.stepPath(step)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %d", ErrDuplicateStep, step)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	cp := Checkpoint{Step: step, Timestamp: time.Now(), State: raw}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Atomic write so a crashed save never leaves a readable partial.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	if m.saveCounter != nil {
		m.saveCounter.Add(ctx, 1)
	}

	m.logger.Debug("saved checkpoint", zap.Int("step", step))
	return nil
}

// Load reads one checkpoint back. Returns nil when the step is absent.
func (m *Manager) Load(step int) (*Checkpoint, error) {
	data, err := os.ReadFile(m.stepPath(step))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %d: %w", step, err)
	}
	return &cp, nil
}

// List returns all step numbers in ascending order.
func (m *Manager) List() ([]int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var steps []int
	for _, entry := range entries {
		var step int
		if _, err := fmt.Sscanf(entry.Name(), "step_%06d.json", &step); err == nil {
			steps = append(steps, step)
		}
	}
	sort.Ints(steps)
	return steps, nil
}

// Latest returns the highest step number, or ok=false when none exist.
func (m *Manager) Latest() (int, bool, error) {
	steps, err := m.List()
	if err != nil {
		return 0, false, err
	}
	if len(steps) == 0 {
		return 0, false, nil
	}
	return steps[len(steps)-1], true, nil
}

// CleanupOld deletes everything except the highest keepLastN steps and
// returns the number deleted.
func (m *Manager) CleanupOld(keepLastN int) (int, error) {
	if keepLastN < 0 {
		return 0, fmt.Errorf("keepLastN must be >= 0, got %d", keepLastN)
	}

	steps, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(steps) <= keepLastN {
		return 0, nil
	}

	deleted := 0
	for _, step := range steps[:len(steps)-keepLastN] {
		if err := os.Remove(m.stepPath(step)); err != nil {
			return deleted, fmt.Errorf("failed to delete checkpoint %d: %w", step, err)
		}
		deleted++
	}

	m.logger.Debug("cleaned up checkpoints",
		zap.Int("deleted", deleted),
		zap.Int("kept", keepLastN),
	)
	return deleted, nil
}

func (m *Manager) stepPath(step int) string {
	return filepath.Join(m.dir, fmt.Sprintf("step_%06d.json", step))
}
