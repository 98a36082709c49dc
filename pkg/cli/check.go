package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/observability"
	"github.com/platinummonkey/factcore/pkg/schema"
)

func newCheckCommand(opts *options) *cobra.Command {
	var ping, describe bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		Long: `Load the configuration, validate every section and publish it.
Exits non-zero naming the offending field when the document is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if describe {
				return runDescribe(cmd.OutOrStdout())
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts, ping)
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "also ping the configured redis and postgres servers")
	cmd.Flags().BoolVar(&describe, "describe", false, "print the fields of every section and exit")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, opts *options, ping bool) error {
	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(out, "Configuration: %s\n", s.cfg.Source)
	fmt.Fprintf(out, "Sections: %s\n", strings.Join(s.cfg.Sections(), ", "))
	if b := s.cfg.Backend; b != nil {
		fmt.Fprintf(out, "Presets: %s\n", strings.Join(sortedKeys(b.Presets), ", "))
		fmt.Fprintf(out, "Plugin options: %s\n", strings.Join(sortedKeys(b.Plugin), ", "))
	}

	if !ping {
		return nil
	}

	db, rdb, err := connect(s)
	if err != nil {
		return err
	}
	defer closeAll(db, rdb)

	checker := observability.NewHealthChecker(s.state, nil, db, rdb)
	checker.SetVersion(Version)
	status := checker.Check(ctx)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEPENDENCY\tSTATUS\tMESSAGE")
	for _, name := range sortedKeys(status.Dependencies) {
		dep := status.Dependencies[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, dep.Status, dep.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if status.Status == observability.StatusUnhealthy {
		return errors.New("configuration check failed: dependencies unhealthy")
	}
	return nil
}

// connect opens the servers named in the published configuration. Sections
// that are absent or leave the host empty are skipped.
func connect(s *session) (*sql.DB, *redis.Client, error) {
	var (
		db  *sql.DB
		rdb *redis.Client
		err error
	)
	if b := s.state.Backend(); b != nil && b.Postgres.Server != "" {
		db, err = observability.OpenDatabase(b.Postgres, config.RoleReadOnly, false)
		if err != nil {
			return nil, nil, err
		}
	}
	if c := s.state.Common(); c != nil && c.Redis.Host != "" {
		rdb, err = observability.OpenRedis(c.Redis, false)
		if err != nil {
			closeAll(db, nil)
			return nil, nil, err
		}
	}
	return db, rdb, nil
}

func closeAll(db *sql.DB, rdb *redis.Client) {
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

func runDescribe(out io.Writer) error {
	sections := []struct {
		name string
		v    any
	}{
		{"backend", config.BackendConfig{}},
		{"frontend", config.FrontendConfig{}},
		{"common", config.CommonConfig{}},
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tTYPE\tREQUIRED\tDEFAULT")
	for _, sec := range sections {
		d, err := schema.Describe(sec.v)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "[%s]\t\t\t%s\n", sec.name, d.Policy)
		describeFields(w, sec.name, d)
	}
	return w.Flush()
}

func describeFields(w io.Writer, prefix string, d *schema.Descriptor) {
	for _, f := range d.Fields() {
		path := prefix + "." + f.Name
		if f.Nested != nil {
			describeFields(w, path, f.Nested)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", path, f.Type, f.Required(), f.Default)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
