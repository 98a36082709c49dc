package plugins

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/factcore/pkg/config"
)

// importChain tracks the modules executing on one loading goroutine,
// outermost first.
type importChain struct {
	stack []string

	// waiting is the module this chain is blocked on; guarded by waitMu.
	waiting *Module
}

func (c *importChain) push(id string) { c.stack = append(c.stack, id) }
func (c *importChain) pop()           { c.stack = c.stack[:len(c.stack)-1] }

var waitMu sync.Mutex

// Env is handed to module factories while they execute
type Env struct {
	ctx    context.Context
	module *Module
	loader *Loader
	chain  *importChain
}

// Context is cancelled when the load is abandoned
func (e *Env) Context() context.Context {
	return e.ctx
}

// Identity returns the identity of the executing module
func (e *Env) Identity() string {
	return e.module.Identity
}

// Path returns the source file of the executing module, empty for helpers
func (e *Env) Path() string {
	return e.module.Path
}

// Log returns a logger tagged with the executing module
func (e *Env) Log() *logrus.Entry {
	return e.loader.log.WithField("module", e.module.Identity)
}

// Config returns the published configuration the loader was built with
func (e *Env) Config() *config.State {
	return e.loader.state
}

// Import resolves name relative to the executing module and returns the
// imported module, executing it first when needed. Importing a module that
// is being executed further up the same chain returns it partially
// initialized. A module being executed on another goroutine is waited for.
func (e *Env) Import(name string) (*Module, error) {
	target, err := Resolve(e.module.Identity, name)
	if err != nil {
		return nil, err
	}

	reg := e.loader.registry
	for {
		if err := e.ctx.Err(); err != nil {
			return nil, fmt.Errorf("importing %s: %w", target, err)
		}
		if m, ok := reg.Get(target); ok {
			if slices.Contains(e.chain.stack, target) {
				return m, nil
			}
			return e.await(m)
		}

		m, err := e.loader.importModule(e.ctx, target, e.chain)
		if errors.Is(err, errClaimed) {
			continue
		}
		return m, err
	}
}

// MustImport is Import that panics on error; the panic fails the load of
// the executing module.
func (e *Env) MustImport(name string) *Module {
	m, err := e.Import(name)
	if err != nil {
		panic(err)
	}
	return m
}

func (e *Env) await(m *Module) (*Module, error) {
	select {
	case <-m.done:
		return loaded(m)
	default:
	}

	waitMu.Lock()
	if waitsOn(m.chain, e.chain) {
		waitMu.Unlock()
		e.Log().WithField("import", m.Identity).Debug("Circular import across loaders, using partially initialized module")
		return m, nil
	}
	e.chain.waiting = m
	waitMu.Unlock()

	defer func() {
		waitMu.Lock()
		e.chain.waiting = nil
		waitMu.Unlock()
	}()

	select {
	case <-m.done:
		return loaded(m)
	case <-e.ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", m.Identity, e.ctx.Err())
	}
}

func loaded(m *Module) (*Module, error) {
	if m.err != nil {
		return nil, fmt.Errorf("%w: %s failed to load: %v", ErrModuleNotFound, m.Identity, m.err)
	}
	return m, nil
}

// waitsOn reports whether chain from is, directly or through the modules
// it waits for, blocked on chain target.
func waitsOn(from, target *importChain) bool {
	for hops := 0; from != nil && hops < 1024; hops++ {
		if from == target {
			return true
		}
		if from.waiting == nil {
			return false
		}
		from = from.waiting.chain
	}
	return false
}

// categoryOf extracts the category from a plugins.<category>... identity
func categoryOf(identity string) Category {
	parts := strings.SplitN(identity, ".", 3)
	if len(parts) < 3 || parts[0] != "plugins" {
		return ""
	}
	c, err := ParseCategory(parts[1])
	if err != nil {
		return ""
	}
	return c
}
