package tools

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stackmesa/overseer/internal/task"
)

// unsafeEnvVar is the explicit environment override for unsafe mode.
// It is read exactly once, when the registry is constructed.
const unsafeEnvVar = "OVERSEER_UNSAFE_TOOLS"

// Registry maps tool names to specs and gates dangerous tools.
type Registry struct {
	mu     sync.RWMutex
	specs  map[string]Spec
	unsafe bool
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithUnsafe explicitly enables dangerous tool execution.
func WithUnsafe() Option {
	return func(r *Registry) { r.unsafe = true }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty tool registry. Unsafe mode is enabled
// only by WithUnsafe or by OVERSEER_UNSAFE_TOOLS=1 in the environment
// at construction time, never inferred later.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		specs:  make(map[string]Spec),
		unsafe: os.Getenv(unsafeEnvVar) == "1",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.unsafe {
		r.logger.Warn("unsafe tool execution enabled")
	}
	return r
}

// UnsafeEnabled reports whether dangerous tools may execute.
func (r *Registry) UnsafeEnabled() bool {
	return r.unsafe
}

// Register adds a tool spec. Re-registering a name is an error.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if spec.Adapter == nil {
		return fmt.Errorf("tool %s has no adapter", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.specs[spec.Name] = spec

	r.logger.Debug("registered tool",
		zap.String("tool", spec.Name),
		zap.Bool("dangerous", spec.Dangerous),
	)
	return nil
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return spec, nil
}

// List returns all registered specs sorted by name.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Resolve maps a task to its tool spec, enforcing the task's tool
// allow-list and the unsafe-mode gate. Dangerous tools never run
// silently: without unsafe mode, resolution fails with ErrUnsafeTool.
func (r *Registry) Resolve(t *task.Task) (Spec, error) {
	name, err := ToolForType(t.Type)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s", err, t.Type)
	}

	spec, err := r.Get(name)
	if err != nil {
		return Spec{}, err
	}

	if len(t.AllowedTools) > 0 && !contains(t.AllowedTools, name) {
		return Spec{}, fmt.Errorf("%w: %s (task %s)", ErrToolNotAllowed, name, t.ID)
	}

	if spec.Dangerous && !r.unsafe {
		return Spec{}, fmt.Errorf("%w: %s (task %s)", ErrUnsafeTool, name, t.ID)
	}

	return spec, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
