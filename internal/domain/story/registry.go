package story

import (
	"fmt"
	"sync"

	"github.com/cosmicds/story-session-hub/internal/domain/session"
	"github.com/cosmicds/story-session-hub/internal/domain/shared"
)

// Factory builds a story state bound to the global session state. The
// session state is passed so that story implementations can read identity
// and option fields at construction.
type Factory func(app *session.State) (State, error)

// Registry maps story names to their state factories. Stories register
// themselves at startup; Setup constructs the state for the configured
// story during bootstrap.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for the named story. Registering the same name
// twice replaces the earlier factory.
func (r *Registry) Register(name string, factory Factory) {
	if name == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered story names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Setup constructs the state for the named story.
func (r *Registry) Setup(name string, app *session.State) (State, error) {
	if name == "" {
		return nil, shared.ErrStoryNameEmpty
	}

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("setup story %q: %w", name, shared.ErrStoryNotRegistered)
	}

	state, err := factory(app)
	if err != nil {
		return nil, fmt.Errorf("setup story %q: %w", name, err)
	}
	return state, nil
}
