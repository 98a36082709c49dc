package config

import (
	"sync"
	"sync/atomic"
)

// State holds a published configuration. Readers dereference the current
// snapshot on every call, so a handle taken before the first load observes
// later publications. A snapshot is never modified after publication.
type State struct {
	mu         sync.Mutex
	current    atomic.Pointer[Config]
	generation atomic.Uint64
}

// NewState creates an empty state with nothing published
func NewState() *State {
	return &State{}
}

var defaultState = NewState()

// Default returns the process-wide state used by Load and the package accessors
func Default() *State {
	return defaultState
}

// Publish replaces all three sections at once and returns the new generation.
func (s *State) Publish(cfg *Config) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(cfg)
	return s.generation.Add(1)
}

// Reset clears the published configuration
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(nil)
	s.generation.Add(1)
}

// Current returns the published snapshot, nil before the first load
func (s *State) Current() *Config {
	return s.current.Load()
}

// Generation counts publications and resets
func (s *State) Generation() uint64 {
	return s.generation.Load()
}

// Backend returns the published backend section, nil when absent
func (s *State) Backend() *BackendConfig {
	if c := s.current.Load(); c != nil {
		return c.Backend
	}
	return nil
}

// Frontend returns the published frontend section, nil when absent
func (s *State) Frontend() *FrontendConfig {
	if c := s.current.Load(); c != nil {
		return c.Frontend
	}
	return nil
}

// Common returns the published common section, nil before the first load
func (s *State) Common() *CommonConfig {
	if c := s.current.Load(); c != nil {
		return c.Common
	}
	return nil
}

// Loaded reports whether a configuration has been published
func (s *State) Loaded() bool {
	return s.current.Load() != nil
}

// Backend returns the process-wide backend section.
func Backend() *BackendConfig { return defaultState.Backend() }

// Frontend returns the process-wide frontend section.
func Frontend() *FrontendConfig { return defaultState.Frontend() }

// Common returns the process-wide common section.
func Common() *CommonConfig { return defaultState.Common() }

// Current returns the process-wide configuration snapshot.
func Current() *Config { return defaultState.Current() }

// Reset clears the process-wide configuration; used by tests.
func Reset() { defaultState.Reset() }
