package plugins

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/factcore/pkg/config"
)

var tracer = otel.Tracer("factcore/plugins")

// errClaimed signals that another goroutine registered the module first
var errClaimed = errors.New("module claimed concurrently")

// LoadObserver is notified about plugin loads, e.g. to record metrics
type LoadObserver interface {
	ObservePluginLoad(category Category, identity string, err error, elapsed time.Duration)
	ObserveDiscovery(category Category, loaded, failed int, elapsed time.Duration)
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithCatalog resolves factories from c instead of the process-wide catalog.
func WithCatalog(c *Catalog) LoaderOption {
	return func(l *Loader) { l.catalog = c }
}

// WithRegistry registers modules in r instead of the process-wide registry.
func WithRegistry(r *Registry) LoaderOption {
	return func(l *Loader) { l.registry = r }
}

// WithConfig exposes s to plugin factories through Env.Config.
func WithConfig(s *config.State) LoaderOption {
	return func(l *Loader) { l.state = s }
}

// WithWorkers loads up to n candidates concurrently.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithTimeout abandons a candidate whose factory runs longer than d. Zero
// disables the timeout.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// WithObserver reports every load to o.
func WithObserver(o LoadObserver) LoaderOption {
	return func(l *Loader) { l.observer = o }
}

// Loader discovers plugin source files and loads the linked plugin modules
// behind them. A failing plugin never aborts discovery.
type Loader struct {
	locator  *Locator
	catalog  *Catalog
	registry *Registry
	state    *config.State
	log      *logrus.Logger
	workers  int
	timeout  time.Duration
	observer LoadObserver
}

// NewLoader creates a new plugin loader
func NewLoader(locator *Locator, log *logrus.Logger, opts ...LoaderOption) *Loader {
	if log == nil {
		log = logrus.New()
	}
	l := &Loader{
		locator:  locator,
		catalog:  linked,
		registry: defaultRegistry,
		state:    config.Default(),
		log:      log,
		workers:  1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the registry the loader writes to
func (l *Loader) Registry() *Registry {
	return l.registry
}

// Discovery is the outcome of loading one plugin category
type Discovery struct {
	RunID    string
	Category Category
	Modules  []*Module
	Failures []*LoadError
	Duration time.Duration
}

// Plugins returns the plugins of the loaded modules
func (d *Discovery) Plugins() []Plugin {
	out := make([]Plugin, 0, len(d.Modules))
	for _, m := range d.Modules {
		out = append(out, m.Plugin)
	}
	return out
}

// LoadCategory loads every plugin of category and returns the modules that
// loaded. Individual failures are logged, not returned.
func (l *Loader) LoadCategory(ctx context.Context, category Category) ([]*Module, error) {
	d, err := l.Discover(ctx, category)
	if err != nil {
		return nil, err
	}
	return d.Modules, nil
}

// DiscoverAnalysisPlugins loads the analysis plugins
func (l *Loader) DiscoverAnalysisPlugins(ctx context.Context) ([]*Module, error) {
	return l.LoadCategory(ctx, CategoryAnalysis)
}

// DiscoverComparePlugins loads the compare plugins
func (l *Loader) DiscoverComparePlugins(ctx context.Context) ([]*Module, error) {
	return l.LoadCategory(ctx, CategoryCompare)
}

// Discover loads every plugin of category. The error is only set for an
// unknown category or an unreadable source tree; plugin failures are
// collected in Failures.
func (l *Loader) Discover(ctx context.Context, category Category) (*Discovery, error) {
	if _, err := ParseCategory(string(category)); err != nil {
		return nil, err
	}

	d := &Discovery{RunID: uuid.NewString(), Category: category}
	ctx, span := tracer.Start(ctx, "plugins.Discover",
		trace.WithAttributes(
			attribute.String("plugins.category", string(category)),
			attribute.String("plugins.run_id", d.RunID),
		),
	)
	defer span.End()

	log := l.log.WithFields(logrus.Fields{
		"run_id":   d.RunID,
		"category": category,
	})

	start := time.Now()
	candidates, err := l.locator.Locate(category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to locate plugins")
		return nil, err
	}
	log.Debugf("Found %d plugin candidates", len(candidates))

	modules := make([]*Module, len(candidates))
	failures := make([]*LoadError, len(candidates))

	var g errgroup.Group
	g.SetLimit(l.workers)
	for i, c := range candidates {
		g.Go(func() error {
			modules[i], failures[i] = l.loadCandidate(ctx, log, category, c)
			return nil
		})
	}
	_ = g.Wait()

	for i := range candidates {
		if modules[i] != nil {
			d.Modules = append(d.Modules, modules[i])
		}
		if failures[i] != nil {
			d.Failures = append(d.Failures, failures[i])
		}
	}
	d.Duration = time.Since(start)

	if l.observer != nil {
		l.observer.ObserveDiscovery(category, len(d.Modules), len(d.Failures), d.Duration)
	}
	span.SetAttributes(
		attribute.Int("plugins.loaded", len(d.Modules)),
		attribute.Int("plugins.failed", len(d.Failures)),
	)
	span.SetStatus(codes.Ok, "discovery finished")
	log.WithField("duration", d.Duration).Infof("Loaded %d of %d %s plugins", len(d.Modules), len(candidates), category)

	return d, nil
}

func (l *Loader) loadCandidate(ctx context.Context, log *logrus.Entry, category Category, c Candidate) (*Module, *LoadError) {
	identity := c.Identity()
	ctx, span := tracer.Start(ctx, "plugins.Load",
		trace.WithAttributes(attribute.String("plugins.identity", identity)),
	)
	defer span.End()

	start := time.Now()
	m, err := l.loadModule(ctx, category, c, identity)
	if l.observer != nil {
		l.observer.ObservePluginLoad(category, identity, err, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load plugin")
		log.WithFields(logrus.Fields{
			"plugin": identity,
			"path":   c.Path,
		}).WithError(err).Errorf("Could not import plugin %s", identity)
		return nil, &LoadError{Identity: identity, Path: c.Path, Category: category, Err: err}
	}
	return m, nil
}

type outcome struct {
	plugin Plugin
	err    error
}

func (l *Loader) loadModule(ctx context.Context, category Category, c Candidate, identity string) (*Module, error) {
	factory, ok := l.catalog.Plugin(identity)
	if !ok {
		return nil, fmt.Errorf("%w: no factory registered for %s", ErrNotLinked, identity)
	}

	var (
		execCtx context.Context
		cancel  context.CancelFunc
	)
	if l.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, l.timeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	chain := &importChain{}
	m := newModule(identity, c.Path, category, chain)
	if err := l.registry.claim(m); err != nil {
		// another candidate is importing this module right now
		existing, ok := l.registry.Get(identity)
		if !ok {
			return nil, err
		}
		return l.join(execCtx, category, existing)
	}
	chain.push(identity)

	env := &Env{ctx: execCtx, module: m, loader: l, chain: chain}
	results := make(chan outcome, 1)
	go func() {
		v, err := execute(env, func(env *Env) (any, error) { return factory(env) })
		p, _ := v.(Plugin)
		results <- outcome{plugin: p, err: err}
	}()

	var out outcome
	select {
	case out = <-results:
	case <-execCtx.Done():
		out.err = execCtx.Err()
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			out.err = fmt.Errorf("%w after %s", ErrLoadTimeout, l.timeout)
		}
	}

	if out.err == nil {
		out.err = validatePlugin(category, out.plugin)
	}
	if out.err != nil {
		l.registry.remove(m)
		m.finish(out.err)
		return nil, out.err
	}

	m.Plugin = out.plugin
	m.finish(nil)
	return m, nil
}

// join waits for a module executed by another loading goroutine
func (l *Loader) join(ctx context.Context, category Category, m *Module) (*Module, error) {
	select {
	case <-m.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", m.Identity, ctx.Err())
	}
	if m.err != nil {
		return nil, m.err
	}
	if err := validatePlugin(category, m.Plugin); err != nil {
		return nil, err
	}
	return m, nil
}

// importModule executes the linked helper or plugin module target on the
// importing goroutine.
func (l *Loader) importModule(ctx context.Context, target string, chain *importChain) (*Module, error) {
	var (
		run  func(*Env) (any, error)
		path string
	)
	if f, ok := l.catalog.Helper(target); ok {
		run = func(env *Env) (any, error) { return f(env) }
	} else if f, ok := l.catalog.Plugin(target); ok {
		run = func(env *Env) (any, error) { return f(env) }
		if l.locator != nil {
			path, _ = l.locator.Source(target)
		}
	} else {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, target)
	}

	// an importer abandoned by its load timeout must not register anything
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("importing %s: %w", target, err)
	}

	m := newModule(target, path, categoryOf(target), chain)
	if err := l.registry.claim(m); err != nil {
		return nil, errClaimed
	}

	chain.push(target)
	defer chain.pop()

	v, err := execute(&Env{ctx: ctx, module: m, loader: l, chain: chain}, run)
	if err != nil {
		l.registry.remove(m)
		m.finish(err)
		return nil, fmt.Errorf("failed to import %s: %w", target, err)
	}

	if p, ok := v.(Plugin); ok {
		m.Plugin = p
	} else {
		m.Value = v
	}
	m.finish(nil)
	l.log.WithField("module", target).Debug("Imported module")
	return m, nil
}

// execute runs a module factory, turning a panic into an error that carries
// the stack.
func execute(env *Env, run func(*Env) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return run(env)
}

func validatePlugin(category Category, p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: factory returned no plugin", ErrInvalidPlugin)
	}

	switch category {
	case CategoryAnalysis:
		if _, ok := p.(AnalysisPlugin); !ok {
			return fmt.Errorf("%w: %T does not implement AnalysisPlugin", ErrInvalidPlugin, p)
		}
	case CategoryCompare:
		if _, ok := p.(ComparePlugin); !ok {
			return fmt.Errorf("%w: %T does not implement ComparePlugin", ErrInvalidPlugin, p)
		}
	}

	md := p.MetaData()
	if errs := Errors(ValidateMetaData(md)); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlugin, errs)
	}

	if category == CategoryAnalysis {
		if md.Schema == nil {
			return fmt.Errorf("%w: analysis plugin %s declares no output schema", ErrInvalidPlugin, md.Name)
		}
		if _, err := OutputSchemaFor(md.Schema); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPlugin, err)
		}
	}
	return nil
}
