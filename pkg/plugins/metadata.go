package plugins

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Severity of a metadata issue
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError is one problem found in plugin metadata
type ValidationError struct {
	Field    string
	Message  string
	Severity string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a list of metadata problems
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

// Errors returns the issues with error severity
func Errors(issues []ValidationError) ValidationErrors {
	var out ValidationErrors
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

// ValidateMetaData checks plugin metadata for required fields and sane values
func ValidateMetaData(md MetaData) []ValidationError {
	var errors []ValidationError

	if md.Name == "" {
		errors = append(errors, ValidationError{
			Field:    "name",
			Message:  "Plugin name is required",
			Severity: SeverityError,
		})
	} else if strings.ContainsAny(md.Name, " \t\n/") {
		errors = append(errors, ValidationError{
			Field:    "name",
			Message:  fmt.Sprintf("Plugin name must not contain whitespace or slashes: %q", md.Name),
			Severity: SeverityError,
		})
	}

	if md.Description == "" {
		errors = append(errors, ValidationError{
			Field:    "description",
			Message:  "Description is recommended",
			Severity: SeverityWarning,
		})
	}

	if md.Version == "" {
		errors = append(errors, ValidationError{
			Field:    "version",
			Message:  "Version is required",
			Severity: SeverityError,
		})
	} else if _, err := semver.NewVersion(md.Version); err != nil {
		errors = append(errors, ValidationError{
			Field:    "version",
			Message:  fmt.Sprintf("Invalid semver format: %s", md.Version),
			Severity: SeverityError,
		})
	}

	if md.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:    "timeout",
			Message:  fmt.Sprintf("Timeout must not be negative: %s", md.Timeout),
			Severity: SeverityError,
		})
	}

	seen := make(map[string]bool, len(md.Dependencies))
	for _, dep := range md.Dependencies {
		switch {
		case dep == md.Name && dep != "":
			errors = append(errors, ValidationError{
				Field:    "dependencies",
				Message:  "Plugin cannot depend on itself",
				Severity: SeverityError,
			})
		case seen[dep]:
			errors = append(errors, ValidationError{
				Field:    "dependencies",
				Message:  fmt.Sprintf("Duplicate dependency: %s", dep),
				Severity: SeverityWarning,
			})
		}
		seen[dep] = true
	}

	if len(md.MimeBlacklist) > 0 && len(md.MimeWhitelist) > 0 {
		errors = append(errors, ValidationError{
			Field:    "mime_whitelist",
			Message:  "Both blacklist and whitelist are set; the whitelist takes precedence",
			Severity: SeverityWarning,
		})
	}

	return errors
}
