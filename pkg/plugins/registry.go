package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// Module is a plugin or helper module known to the registry. A module is
// added before its factory runs; Plugin or Value is set once Done is closed
// without error.
type Module struct {
	Identity string
	Path     string
	Category Category

	// Plugin is set for plugin modules.
	Plugin Plugin
	// Value is set for helper modules.
	Value any

	done  chan struct{}
	once  sync.Once
	err   error
	chain *importChain
}

func newModule(identity, path string, category Category, chain *importChain) *Module {
	return &Module{
		Identity: identity,
		Path:     path,
		Category: category,
		done:     make(chan struct{}),
		chain:    chain,
	}
}

// Done is closed when the module finished executing
func (m *Module) Done() <-chan struct{} {
	return m.done
}

// Ready reports whether the module finished executing successfully
func (m *Module) Ready() bool {
	select {
	case <-m.done:
		return m.err == nil
	default:
		return false
	}
}

// Err returns the execution error once Done is closed
func (m *Module) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Name returns the plugin's metadata name, or the identity for helpers
func (m *Module) Name() string {
	if m.Plugin != nil {
		return m.Plugin.MetaData().Name
	}
	return m.Identity
}

func (m *Module) finish(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
}

// Registry maps module identities to modules. Each identity is written by
// exactly one loading attempt at a time.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewRegistry creates an empty module registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide module registry
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Add registers m under its identity
func (r *Registry) Add(m *Module) error {
	if m == nil {
		return fmt.Errorf("cannot register nil module")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[m.Identity]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, m.Identity)
	}
	r.modules[m.Identity] = m
	return nil
}

// claim registers m unless a module with the same identity is still
// executing. A finished module from an earlier discovery is replaced.
func (r *Registry) claim(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.modules[m.Identity]; ok {
		select {
		case <-existing.done:
		default:
			return fmt.Errorf("%w: %s is still loading", ErrAlreadyRegistered, m.Identity)
		}
	}
	r.modules[m.Identity] = m
	return nil
}

// remove deletes identity only while it still maps to m
func (r *Registry) remove(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.modules[m.Identity] == m {
		delete(r.modules, m.Identity)
	}
}

// Remove deletes a module by identity
func (r *Registry) Remove(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[identity]; !exists {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, identity)
	}
	delete(r.modules, identity)
	return nil
}

// Get retrieves a module by identity
func (r *Registry) Get(identity string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[identity]
	return m, ok
}

// Has checks if an identity is registered
func (r *Registry) Has(identity string) bool {
	_, ok := r.Get(identity)
	return ok
}

// List returns all modules sorted by identity
func (r *Registry) List() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identity < result[j].Identity })
	return result
}

// ListByCategory returns the ready plugin modules of a category
func (r *Registry) ListByCategory(category Category) []*Module {
	var result []*Module
	for _, m := range r.List() {
		if m.Category == category && m.Ready() {
			result = append(result, m)
		}
	}
	return result
}

// Count returns the number of registered modules
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.modules)
}

// Clear removes all modules from the registry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules = make(map[string]*Module)
}

// Get retrieves a module from the process-wide registry.
func Get(identity string) (*Module, bool) { return defaultRegistry.Get(identity) }

// Has checks the process-wide registry for identity.
func Has(identity string) bool { return defaultRegistry.Has(identity) }

// List returns every module of the process-wide registry.
func List() []*Module { return defaultRegistry.List() }

// ListByCategory returns the ready plugins of category in the process-wide registry.
func ListByCategory(category Category) []*Module { return defaultRegistry.ListByCategory(category) }

// Count returns the size of the process-wide registry.
func Count() int { return defaultRegistry.Count() }

// Clear empties the process-wide registry.
func Clear() { defaultRegistry.Clear() }
