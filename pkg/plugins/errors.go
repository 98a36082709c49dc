package plugins

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory is returned for a category other than analysis or compare
	ErrUnknownCategory = errors.New("unknown plugin category")
	// ErrAlreadyRegistered is returned when an identity is registered twice
	ErrAlreadyRegistered = errors.New("module already registered")
	// ErrNotLinked is returned for a plugin file whose package is not linked into the binary
	ErrNotLinked = errors.New("plugin not linked into binary")
	// ErrModuleNotFound is returned when an import cannot be resolved
	ErrModuleNotFound = errors.New("module not found")
	// ErrLoadTimeout is returned when a plugin factory does not return in time
	ErrLoadTimeout = errors.New("plugin load timed out")
	// ErrInvalidPlugin is returned when a loaded plugin does not satisfy its category contract
	ErrInvalidPlugin = errors.New("invalid plugin")
	// ErrInvalidResult is returned when an analysis result does not match the output schema
	ErrInvalidResult = errors.New("result does not match output schema")
)

// LoadError describes a plugin that failed to load. Discovery collects these
// instead of returning them.
type LoadError struct {
	Identity string
	Path     string
	Category Category
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load %s plugin %s (%s): %v", e.Category, e.Identity, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
