package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/factcore/pkg/plugins"
)

// defaultWorkerCount is the worker count of a plugin without a processes option
const defaultWorkerCount = 1

type pluginsOptions struct {
	workers   int
	timeout   time.Duration
	mandatory []string
	json      bool
}

func newPluginsCommand(opts *options) *cobra.Command {
	po := &pluginsOptions{}

	cmd := &cobra.Command{
		Use:       "plugins [analysis|compare]",
		Short:     "Discover and list plugins",
		Long:      "Discover the plugins below --src-dir and list the ones that loaded and the ones that failed.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(plugins.CategoryAnalysis), string(plugins.CategoryCompare)},
		RunE: func(cmd *cobra.Command, args []string) error {
			categories := plugins.Categories
			if len(args) == 1 {
				c, err := plugins.ParseCategory(args[0])
				if err != nil {
					return err
				}
				categories = []plugins.Category{c}
			}
			return runPlugins(cmd.Context(), cmd.OutOrStdout(), opts, po, categories)
		},
	}

	cmd.Flags().IntVar(&po.workers, "workers", 1, "number of plugins loaded concurrently")
	cmd.Flags().DurationVar(&po.timeout, "timeout", 0, "abandon a plugin whose load takes longer (0 disables)")
	cmd.Flags().StringSliceVar(&po.mandatory, "mandatory", nil, "analysis plugins flagged as mandatory")
	cmd.Flags().BoolVar(&po.json, "json", false, "output in JSON format")
	return cmd
}

// categoryReport is the JSON form of one discovery
type categoryReport struct {
	RunID    string                                `json:"run_id"`
	Plugins  []pluginEntry                         `json:"plugins"`
	Info     map[string]plugins.AnalysisPluginInfo `json:"info,omitempty"`
	Failures []failureEntry                        `json:"failures"`
}

type pluginEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Identity string `json:"identity"`
}

type failureEntry struct {
	Identity string `json:"identity"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

func runPlugins(ctx context.Context, out io.Writer, opts *options, po *pluginsOptions, categories []plugins.Category) error {
	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	loader := plugins.NewLoader(plugins.NewLocator(opts.srcDir), s.log,
		plugins.WithConfig(s.state),
		plugins.WithWorkers(po.workers),
		plugins.WithTimeout(po.timeout),
	)

	reports := make(map[plugins.Category]*categoryReport, len(categories))
	for _, c := range categories {
		d, err := loader.Discover(ctx, c)
		if err != nil {
			return err
		}
		reports[c] = report(d, s, po.mandatory)
	}

	if po.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tNAME\tVERSION\tIDENTITY")
	for _, c := range categories {
		for _, p := range reports[c].Plugins {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c, p.Name, p.Version, p.Identity)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, c := range categories {
		for _, f := range reports[c].Failures {
			fmt.Fprintf(out, "FAILED %s %s: %s\n", c, f.Identity, f.Error)
		}
	}
	return nil
}

func report(d *plugins.Discovery, s *session, mandatory []string) *categoryReport {
	r := &categoryReport{
		RunID:    d.RunID,
		Plugins:  make([]pluginEntry, 0, len(d.Modules)),
		Failures: make([]failureEntry, 0, len(d.Failures)),
	}
	for _, m := range d.Modules {
		md := m.Plugin.MetaData()
		r.Plugins = append(r.Plugins, pluginEntry{Name: md.Name, Version: md.Version, Identity: m.Identity})
	}
	sort.Slice(r.Plugins, func(i, j int) bool { return r.Plugins[i].Name < r.Plugins[j].Name })

	for _, f := range d.Failures {
		r.Failures = append(r.Failures, failureEntry{Identity: f.Identity, Path: f.Path, Error: f.Err.Error()})
	}
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Identity < r.Failures[j].Identity })

	if d.Category == plugins.CategoryAnalysis {
		r.Info = plugins.BuildPluginInfo(d.Modules, s.state.Backend(), mandatory, defaultWorkerCount)
	}
	return r
}
