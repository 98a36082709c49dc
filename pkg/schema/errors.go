package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Constraint names the kind of rule a field violated.
type Constraint string

const (
	ConstraintMissing   Constraint = "missing"
	ConstraintType      Constraint = "type"
	ConstraintUnknown   Constraint = "unknown"
	ConstraintValidate  Constraint = "constraint"
	ConstraintDuplicate Constraint = "duplicate"
	ConstraintDecode    Constraint = "decode"
)

// FieldError describes a single offending field.
type FieldError struct {
	Field      string     `json:"field"`
	Constraint Constraint `json:"constraint"`
	Message    string     `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError is returned when a section does not satisfy its schema.
type ValidationError struct {
	Section string
	Issues  []FieldError
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		lines = append(lines, issue.String())
	}
	return fmt.Sprintf("schema validation failed for section %q:\n- %s", e.Section, strings.Join(lines, "\n- "))
}

// Has reports whether an issue with the given field and constraint exists.
func (e *ValidationError) Has(field string, c Constraint) bool {
	for _, issue := range e.Issues {
		if issue.Field == field && issue.Constraint == c {
			return true
		}
	}
	return false
}

// Prefixed returns a copy of the error whose field paths are nested under prefix.
func (e *ValidationError) Prefixed(section, prefix string) *ValidationError {
	out := &ValidationError{Section: section, Issues: make([]FieldError, 0, len(e.Issues))}
	for _, issue := range e.Issues {
		if issue.Field == "" {
			issue.Field = prefix
		} else {
			issue.Field = prefix + "." + issue.Field
		}
		out.Issues = append(out.Issues, issue)
	}
	return out
}

// Merge combines several validation errors for the same section. Nil inputs
// are skipped; the result is nil when nothing remains.
func Merge(section string, errs ...*ValidationError) *ValidationError {
	var issues []FieldError
	for _, err := range errs {
		if err != nil {
			issues = append(issues, err.Issues...)
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return newValidationError(section, issues)
}

func newValidationError(section string, issues []FieldError) *ValidationError {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Field < issues[j].Field
	})
	return &ValidationError{Section: section, Issues: issues}
}
