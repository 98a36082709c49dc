package plugins

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/factcore/pkg/objects"
)

// Category is the kind of plugin and the directory it lives in
type Category string

const (
	CategoryAnalysis Category = "analysis"
	CategoryCompare  Category = "compare"
)

// Categories lists every known plugin category
var Categories = []Category{CategoryAnalysis, CategoryCompare}

// ParseCategory returns the category named s
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// DefaultTimeout is the analysis timeout used when MetaData.Timeout is zero
const DefaultTimeout = 300 * time.Second

// MetaData describes a plugin to the scheduler
type MetaData struct {
	Name          string
	Description   string
	Version       string
	Dependencies  []string
	MimeBlacklist []string
	MimeWhitelist []string
	Timeout       time.Duration
	SystemVersion string

	// Schema is a value of the result type returned by the plugin. The
	// output JSON schema is generated from its type.
	Schema any
}

// EffectiveTimeout returns Timeout or DefaultTimeout when unset
func (m MetaData) EffectiveTimeout() time.Duration {
	if m.Timeout <= 0 {
		return DefaultTimeout
	}
	return m.Timeout
}

// Plugin is the base interface all plugins implement
type Plugin interface {
	MetaData() MetaData
}

// AnalysisPlugin analyzes a single file. analyses holds the results of the
// plugins this one depends on, keyed by plugin name.
type AnalysisPlugin interface {
	Plugin
	Analyze(ctx context.Context, file io.Reader, vfp objects.VirtualFilePath, analyses map[string]any) (any, error)
}

// Summarizer is implemented by analysis plugins that reduce a result to a
// short list of human readable entries.
type Summarizer interface {
	Summarize(result any) []string
}

// ComparePlugin compares several file objects, usually firmware images.
type ComparePlugin interface {
	Plugin
	Compare(ctx context.Context, files []*objects.FileObject) (map[string]any, error)
}

// Factory builds the plugin of a plugin module. It runs once per discovery.
type Factory func(env *Env) (Plugin, error)

// HelperFactory builds the value of a helper module imported by plugins.
type HelperFactory func(env *Env) (any, error)
