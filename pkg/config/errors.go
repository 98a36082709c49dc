package config

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound is returned when the configuration document cannot be read
var ErrConfigNotFound = errors.New("configuration file not found")

// ParseError is returned when the document is not valid TOML or YAML, or its
// keys cannot be normalized.
type ParseError struct {
	Path   string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s configuration %s: %v", e.Format, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// InvariantError is returned when a structurally valid section violates a
// semantic rule.
type InvariantError struct {
	Section string
	Field   string
	Value   string
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %s %q %s", e.Section, e.Field, e.Value, e.Reason)
}
