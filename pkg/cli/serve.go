package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/httputil"
	"github.com/platinummonkey/factcore/pkg/observability"
	"github.com/platinummonkey/factcore/pkg/plugins"
)

type serveOptions struct {
	listen       string
	otlpEndpoint string
	pluginsOptions
}

func newServeCommand(opts *options) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load configuration and plugins and serve health, metrics and plugin endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, so)
		},
	}

	cmd.Flags().StringVar(&so.listen, "listen", ":8080", "address to listen on")
	cmd.Flags().StringVar(&so.otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC endpoint for traces (empty disables tracing)")
	cmd.Flags().IntVar(&so.workers, "workers", 1, "number of plugins loaded concurrently")
	cmd.Flags().DurationVar(&so.timeout, "timeout", 0, "abandon a plugin whose load takes longer (0 disables)")
	cmd.Flags().StringSliceVar(&so.mandatory, "mandatory", nil, "analysis plugins flagged as mandatory")
	return cmd
}

func runServe(ctx context.Context, opts *options, so *serveOptions) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	s, err := opts.open(ctx, config.WithObserver(metrics))
	if err != nil {
		return err
	}
	defer s.Close()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:       so.otlpEndpoint,
		ServiceName:    "fact-core",
		ServiceVersion: Version,
		Insecure:       true,
	}, s.log)
	if err != nil {
		return err
	}

	loader := plugins.NewLoader(plugins.NewLocator(opts.srcDir), s.log,
		plugins.WithConfig(s.state),
		plugins.WithWorkers(so.workers),
		plugins.WithTimeout(so.timeout),
		plugins.WithObserver(metrics),
	)
	for _, c := range plugins.Categories {
		if _, err := loader.Discover(ctx, c); err != nil {
			return err
		}
	}

	db, rdb, err := connect(s)
	if err != nil {
		s.log.WithError(err).Warn("Could not connect to backing services, health checks will skip them")
	}

	checker := observability.NewHealthChecker(s.state, loader.Registry(), db, rdb)
	checker.SetVersion(Version)

	router := newOpsRouter(s, loader.Registry(), checker, metrics, registry, so.mandatory)
	server := &http.Server{
		Addr:              so.listen,
		Handler:           otelhttp.NewHandler(router, "fact-core"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sm := observability.NewShutdownManager(s.log, server, 30*time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp)
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		closeAll(db, rdb)
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("Listening on %s", so.listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if path := config.ResolvePath(opts.configPath); path != config.EmbeddedSource {
		watcher, err := config.NewWatcher(s.loader, path, onReload(s, opts.logLevel != ""))
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error { return sm.WaitForShutdown(gctx) })

	return g.Wait()
}

// onReload applies the logging level of a reloaded configuration unless
// the level was fixed on the command line.
func onReload(s *session, levelFixed bool) config.ReloadFunc {
	return func(cfg *config.Config, err error) {
		if err != nil || levelFixed || cfg.Common.Logging.Level == "" {
			return
		}
		level, err := observability.ParseLevel(cfg.Common.Logging.Level)
		if err != nil {
			s.log.WithField("level", cfg.Common.Logging.Level).Warn("Unknown logging level in reloaded configuration")
			return
		}
		s.log.SetLevel(level)
	}
}

func newOpsRouter(s *session, reg *plugins.Registry, checker *observability.HealthChecker, metrics *observability.Metrics, gatherer prometheus.Gatherer, mandatory []string) *mux.Router {
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log),
		observability.RecoveryMiddleware(s.log),
		observability.HTTPMetricsMiddleware(metrics),
	)

	observability.RegisterHealthRoutes(router, checker)
	observability.RegisterMetricsEndpoint(router, gatherer)

	router.HandleFunc("/plugins", func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
			string(plugins.CategoryAnalysis): plugins.BuildPluginInfo(reg.ListByCategory(plugins.CategoryAnalysis), s.state.Backend(), mandatory, defaultWorkerCount),
			string(plugins.CategoryCompare):  moduleNames(reg.ListByCategory(plugins.CategoryCompare)),
		})
	}).Methods(http.MethodGet)

	router.HandleFunc("/plugins/{category}", func(w http.ResponseWriter, r *http.Request) {
		c, err := plugins.ParseCategory(mux.Vars(r)["category"])
		if err != nil {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, moduleNames(reg.ListByCategory(c)))
	}).Methods(http.MethodGet)

	return router
}

func moduleNames(modules []*plugins.Module) []string {
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, m.Name())
	}
	return names
}
