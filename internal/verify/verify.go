// Package verify provides the postcondition framework: a registry of
// named verifiers run against the execution context after every tool
// invocation. Verifiers are pure functions of their context; they never
// mutate shared state.
package verify

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/task"
)

// ErrUnknownVerifier indicates a verifier spec names an unregistered id.
var ErrUnknownVerifier = errors.New("unknown verifier")

// Context is the execution context a verifier checks.
type Context struct {
	// ToolSuccess is the adapter-reported success flag.
	ToolSuccess bool

	// LastResult is the structured output of the last tool invocation.
	LastResult map[string]any

	// Evidence holds accumulated key/value evidence for this attempt.
	Evidence map[string]any

	// HTMLSnapshot is an optional page snapshot for html verifiers.
	HTMLSnapshot string

	// WorkDir resolves relative paths in filesystem verifiers.
	WorkDir string
}

// Outcome is one verifier's verdict.
type Outcome struct {
	ID       string         `json:"id"`
	Passed   bool           `json:"passed"`
	Details  string         `json:"details,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Func checks one postcondition against the context.
type Func func(vctx Context, args map[string]any) (Outcome, error)

// Registry maps verifier ids to check functions.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Func
	logger    *zap.Logger
}

// NewRegistry creates a registry pre-populated with the built-in
// verifiers.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		verifiers: make(map[string]Func),
		logger:    logger,
	}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a verifier.
func (r *Registry) Register(id string, fn Func) error {
	if id == "" {
		return fmt.Errorf("verifier id is required")
	}
	if fn == nil {
		return fmt.Errorf("verifier %s has no function", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[id] = fn
	return nil
}

// Get returns the verifier for an id.
func (r *Registry) Get(id string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.verifiers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerifier, id)
	}
	return fn, nil
}

// Run resolves and executes every spec in order. The overall
// postcondition is the logical AND of every outcome. An unknown id or a
// verifier error fails resolution, not just the verdict.
func (r *Registry) Run(specs []task.VerifierSpec, vctx Context) ([]Outcome, bool, error) {
	outcomes := make([]Outcome, 0, len(specs))
	allPassed := true

	for _, spec := range specs {
		fn, err := r.Get(spec.ID)
		if err != nil {
			return nil, false, err
		}

		outcome, err := fn(vctx, spec.Args)
		if err != nil {
			return nil, false, fmt.Errorf("verifier %s: %w", spec.ID, err)
		}
		outcome.ID = spec.ID

		if !outcome.Passed {
			allPassed = false
			r.logger.Debug("verifier failed",
				zap.String("verifier", spec.ID),
				zap.String("details", outcome.Details),
			)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, allPassed, nil
}
