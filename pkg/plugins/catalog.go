package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog holds the factories of every plugin and helper module linked into
// the binary, keyed by module identity. Plugin packages fill the process-wide
// catalog from init().
type Catalog struct {
	mu      sync.RWMutex
	plugins map[string]Factory
	helpers map[string]HelperFactory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		plugins: make(map[string]Factory),
		helpers: make(map[string]HelperFactory),
	}
}

var linked = NewCatalog()

// Linked returns the process-wide catalog
func Linked() *Catalog {
	return linked
}

// Register adds a plugin module factory
func (c *Catalog) Register(identity string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for %s", identity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFree(identity); err != nil {
		return err
	}
	c.plugins[identity] = factory
	return nil
}

// RegisterHelper adds a helper module factory
func (c *Catalog) RegisterHelper(identity string, factory HelperFactory) error {
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for %s", identity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFree(identity); err != nil {
		return err
	}
	c.helpers[identity] = factory
	return nil
}

func (c *Catalog) checkFree(identity string) error {
	if !ValidIdentity(identity) {
		return fmt.Errorf("invalid module identity %q", identity)
	}
	_, plugin := c.plugins[identity]
	_, helper := c.helpers[identity]
	if plugin || helper {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, identity)
	}
	return nil
}

// Plugin returns the factory of a plugin module
func (c *Catalog) Plugin(identity string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.plugins[identity]
	return f, ok
}

// Helper returns the factory of a helper module
func (c *Catalog) Helper(identity string) (HelperFactory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.helpers[identity]
	return f, ok
}

// Identities returns the sorted identities of all plugin modules
func (c *Catalog) Identities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.plugins))
	for id := range c.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register adds a plugin module factory to the process-wide catalog.
func Register(identity string, factory Factory) error {
	return linked.Register(identity, factory)
}

// RegisterHelper adds a helper module factory to the process-wide catalog.
func RegisterHelper(identity string, factory HelperFactory) error {
	return linked.RegisterHelper(identity, factory)
}

// MustRegister is Register for use in init; it panics on error.
func MustRegister(identity string, factory Factory) {
	if err := Register(identity, factory); err != nil {
		panic("plugins: " + err.Error())
	}
}

// MustRegisterHelper is RegisterHelper for use in init; it panics on error.
func MustRegisterHelper(identity string, factory HelperFactory) {
	if err := RegisterHelper(identity, factory); err != nil {
		panic("plugins: " + err.Error())
	}
}
