package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/phrazzld/taskforge/internal/task"
)

// ErrUnknownJobType indicates a registration referenced a job type that no
// factory was registered for.
var ErrUnknownJobType = errors.New("unknown job type")

// JobFactory builds a task body from the raw parameters supplied at
// registration time. The engine never interprets the parameters; the
// factory owns their semantics.
type JobFactory func(params json.RawMessage) (task.Job, error)

// JobRegistry maps declarative job type names to factories so HTTP callers
// can register tasks without shipping code. The composition root registers
// the application's job types at startup.
type JobRegistry struct {
	mu        sync.RWMutex
	factories map[string]JobFactory
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		factories: make(map[string]JobFactory),
	}
}

// Register adds a factory under the given job type name, replacing any
// previous registration.
func (r *JobRegistry) Register(name string, factory JobFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build constructs a job of the named type from the given parameters.
func (r *JobRegistry) Build(name string, params json.RawMessage) (task.Job, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, name)
	}
	return factory(params)
}

// Types returns the registered job type names.
func (r *JobRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
