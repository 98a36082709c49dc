package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/factcore/pkg/schema"
)

const (
	// EnvConfigFile overrides the configuration path when none is given
	EnvConfigFile = "FACT_CONFIG_FILE"

	// EmbeddedSource is the Source of a Config built from the built-in document
	EmbeddedSource = "embedded:fact-core.toml"

	FormatTOML = "toml"
	FormatYAML = "yaml"
)

//go:embed default/fact-core.toml
var defaultDocument []byte

var tracer = otel.Tracer("factcore/config")

// LoadObserver is notified after every parse attempt
type LoadObserver interface {
	ObserveConfigLoad(source string, err error, elapsed time.Duration)
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithState publishes into s instead of the process-wide state.
func WithState(s *State) LoaderOption {
	return func(l *Loader) { l.state = s }
}

// WithObserver reports every parse attempt to o.
func WithObserver(o LoadObserver) LoaderOption {
	return func(l *Loader) { l.observer = o }
}

// Loader reads configuration documents into validated sections
type Loader struct {
	log      *logrus.Logger
	state    *State
	observer LoadObserver
}

// NewLoader creates a new configuration loader
func NewLoader(log *logrus.Logger, opts ...LoaderOption) *Loader {
	if log == nil {
		log = logrus.New()
	}
	l := &Loader{
		log:   log,
		state: defaultState,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the state the loader publishes into
func (l *Loader) State() *State {
	return l.state
}

// Parse is Loader.Parse on a loader using the standard logrus logger.
func Parse(path string) (*Config, error) {
	return NewLoader(logrus.StandardLogger()).Parse(context.Background(), path)
}

// Load is Loader.Load on a loader using the standard logrus logger.
func Load(path string) (*Config, error) {
	return NewLoader(logrus.StandardLogger()).Load(context.Background(), path)
}

// Load parses the document at path and, on success, publishes its sections.
// On failure nothing is published and the previous configuration stays in place.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	gen := l.state.Publish(cfg)
	l.log.WithFields(logrus.Fields{
		"source":     cfg.Source,
		"generation": gen,
		"sections":   strings.Join(cfg.Sections(), ","),
	}).Info("Configuration loaded")
	return cfg, nil
}

// Parse reads and validates the document at path without publishing it.
// An empty path falls back to $FACT_CONFIG_FILE and then to the built-in document.
func (l *Loader) Parse(ctx context.Context, path string) (cfg *Config, err error) {
	source := ResolvePath(path)

	ctx, span := tracer.Start(ctx, "config.Parse",
		trace.WithAttributes(attribute.String("config.source", source)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if l.observer != nil {
			l.observer.ObserveConfigLoad(source, err, time.Since(start))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse configuration")
		}
	}()

	data, err := readDocument(source)
	if err != nil {
		return nil, err
	}

	format := FormatFor(source)
	doc, err := decodeDocument(format, data)
	if err != nil {
		return nil, &ParseError{Path: source, Format: format, Err: err}
	}

	normalized, err := NormalizeKeys(doc)
	if err != nil {
		return nil, &ParseError{Path: source, Format: format, Err: err}
	}
	doc = normalized.(map[string]any)

	cfg, err = l.build(ctx, doc)
	if err != nil {
		return nil, err
	}
	cfg.Source = source

	if err := cfg.verify(); err != nil {
		return nil, err
	}

	span.SetStatus(codes.Ok, "configuration parsed")
	return cfg, nil
}

// ResolvePath returns the document path Parse reads for path, EmbeddedSource
// for the built-in document.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfigFile); env != "" {
		return env
	}
	return EmbeddedSource
}

// FormatFor picks the document format from the file extension. Anything
// other than .yaml or .yml is read as TOML.
func FormatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// DefaultDocument returns a copy of the built-in configuration document
func DefaultDocument() []byte {
	return append([]byte(nil), defaultDocument...)
}

func readDocument(source string) ([]byte, error) {
	if source == EmbeddedSource {
		return DefaultDocument(), nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigNotFound, err)
	}
	return data, nil
}

func decodeDocument(format string, data []byte) (map[string]any, error) {
	doc := map[string]any{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

var knownSections = map[string]bool{
	"backend":  true,
	"frontend": true,
	"common":   true,
}

func (l *Loader) build(ctx context.Context, doc map[string]any) (*Config, error) {
	_, span := tracer.Start(ctx, "config.build")
	defer span.End()

	for key := range doc {
		if !knownSections[key] {
			l.log.WithField("section", key).Debug("Ignoring unknown configuration section")
		}
	}

	commonRaw, ok := doc["common"]
	if !ok {
		return nil, &schema.ValidationError{
			Section: "common",
			Issues: []schema.FieldError{{
				Field:      "common",
				Constraint: schema.ConstraintMissing,
				Message:    "missing mandatory section",
			}},
		}
	}

	cfg := &Config{}

	if raw, ok := doc["backend"]; ok {
		section, err := sectionTable("backend", raw)
		if err != nil {
			return nil, err
		}
		if cfg.Backend, err = l.buildBackend(section); err != nil {
			return nil, err
		}
	}

	if raw, ok := doc["frontend"]; ok {
		section, err := sectionTable("frontend", raw)
		if err != nil {
			return nil, err
		}
		cfg.Frontend = &FrontendConfig{}
		if err := schema.Decode("frontend", section, cfg.Frontend); err != nil {
			return nil, err
		}
	}

	section, err := sectionTable("common", commonRaw)
	if err != nil {
		return nil, err
	}
	cfg.Common = &CommonConfig{}
	if err := schema.Decode("common", section, cfg.Common); err != nil {
		return nil, err
	}

	return cfg, nil
}

func sectionTable(name string, raw any) (map[string]any, error) {
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, &schema.ValidationError{
			Section: name,
			Issues: []schema.FieldError{{
				Field:      name,
				Constraint: schema.ConstraintType,
				Message:    fmt.Sprintf("expected table, got %T", raw),
			}},
		}
	}
	return table, nil
}

// buildBackend converts the presets and plugin record lists into name-keyed
// maps before the rest of the section is decoded.
func (l *Loader) buildBackend(raw map[string]any) (*BackendConfig, error) {
	presets, presetIssues, err := extractRecords(l.log, raw, "presets", func(p *PresetSpec) string { return p.Name })
	if err != nil {
		return nil, err
	}
	plugins, pluginIssues, err := extractRecords(l.log, raw, "plugin", func(p *PluginSpec) string { return p.Name })
	if err != nil {
		return nil, err
	}

	section := maps.Clone(raw)
	section["presets"] = presets
	section["plugin"] = plugins

	backend := &BackendConfig{}
	decodeErr := schema.Decode("backend", section, backend)

	var sectionIssues *schema.ValidationError
	if decodeErr != nil && !errors.As(decodeErr, &sectionIssues) {
		return nil, decodeErr
	}

	all := append([]*schema.ValidationError{sectionIssues}, presetIssues...)
	all = append(all, pluginIssues...)
	if merged := schema.Merge("backend", all...); merged != nil {
		return nil, merged
	}
	return backend, nil
}

// extractRecords decodes the list of records under key into a map keyed by
// name. A later record replaces an earlier one with the same name.
func extractRecords[T any](log *logrus.Logger, raw map[string]any, key string, name func(*T) string) (map[string]*T, []*schema.ValidationError, error) {
	out := make(map[string]*T)

	value, ok := raw[key]
	if !ok {
		return out, nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return out, []*schema.ValidationError{{
			Section: "backend",
			Issues: []schema.FieldError{{
				Field:      key,
				Constraint: schema.ConstraintType,
				Message:    fmt.Sprintf("expected list of tables, got %T", value),
			}},
		}}, nil
	}

	var issues []*schema.ValidationError
	for i, item := range list {
		prefix := fmt.Sprintf("%s[%d]", key, i)

		table, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, &schema.ValidationError{
				Section: "backend",
				Issues: []schema.FieldError{{
					Field:      prefix,
					Constraint: schema.ConstraintType,
					Message:    fmt.Sprintf("expected table, got %T", item),
				}},
			})
			continue
		}

		record := new(T)
		if err := schema.Decode(key, table, record); err != nil {
			var verr *schema.ValidationError
			if !errors.As(err, &verr) {
				return nil, nil, err
			}
			issues = append(issues, verr.Prefixed("backend", prefix))
			continue
		}

		n := name(record)
		if _, dup := out[n]; dup {
			log.WithFields(logrus.Fields{
				"list": key,
				"name": n,
			}).Debug("Duplicate record name, later entry replaces earlier one")
		}
		out[n] = record
	}
	return out, issues, nil
}

// Sections returns the names of the sections present in c
func (c *Config) Sections() []string {
	var names []string
	if c.Backend != nil {
		names = append(names, "backend")
	}
	if c.Frontend != nil {
		names = append(names, "frontend")
	}
	if c.Common != nil {
		names = append(names, "common")
	}
	sort.Strings(names)
	return names
}
