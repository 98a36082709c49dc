package cli

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/observability"
)

// Version is reported by health checks and tracing; set at link time.
var Version = "dev"

// options are the persistent flags shared by all commands
type options struct {
	configPath string
	srcDir     string
	logLevel   string

	state *config.State
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &options{state: config.Default()}

	root := &cobra.Command{
		Use:           "fact-core",
		Short:         "FACT core - configuration and plugin discovery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default $"+config.EnvConfigFile+" or the built-in document)")
	flags.StringVar(&opts.srcDir, "src-dir", ".", "source root containing the plugins directory")
	flags.StringVar(&opts.logLevel, "log-level", "", "override common.logging.level")

	root.AddCommand(
		newCheckCommand(opts),
		newPluginsCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// Execute runs the root command with the process arguments
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// session is a loaded and published configuration plus the logger built
// from its logging section.
type session struct {
	state  *config.State
	loader *config.Loader
	cfg    *config.Config
	log    *logrus.Logger
	closer io.Closer
}

func (s *session) Close() error {
	return s.closer.Close()
}

// open loads and publishes the configuration. Messages logged while
// loading use the --log-level flag; afterwards the logging section applies,
// with the flag taking precedence.
func (o *options) open(ctx context.Context, loaderOpts ...config.LoaderOption) (*session, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if o.logLevel != "" {
		if level, err := observability.ParseLevel(o.logLevel); err == nil {
			log.SetLevel(level)
		}
	}

	loader := config.NewLoader(log, append([]config.LoaderOption{config.WithState(o.state)}, loaderOpts...)...)
	cfg, err := loader.Load(ctx, o.configPath)
	if err != nil {
		return nil, err
	}

	logging := cfg.Common.Logging
	if o.logLevel != "" {
		logging.Level = o.logLevel
	}
	closer, err := observability.ConfigureLogger(log, logging)
	if err != nil {
		return nil, err
	}

	return &session{
		state:  o.state,
		loader: loader,
		cfg:    cfg,
		log:    log,
		closer: closer,
	}, nil
}
