package kernelconfig

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/objects"
	"github.com/platinummonkey/factcore/pkg/plugins"
	"github.com/platinummonkey/factcore/plugins/analysis/kernel_config/internal/decomp"
)

const (
	// Identity is the module identity of this plugin
	Identity = "plugins.analysis.kernel_config.code.kernel_config"
	// Name is the plugin name used in presets and results
	Name = "kernel_config"

	// OptionMaxSize caps the bytes read and decompressed per file
	OptionMaxSize = "max_decompressed_size"

	compressionIkconfig = "ikconfig"
)

var (
	optionSet   = regexp.MustCompile(`^(CONFIG_[A-Za-z0-9_]+)=(.*)$`)
	optionUnset = regexp.MustCompile(`^# (CONFIG_[A-Za-z0-9_]+) is not set$`)
	header      = regexp.MustCompile(`^# Linux/(\S+) (\S+) Kernel Configuration$`)
	oldHeader   = regexp.MustCompile(`^# Linux kernel version: (\S+)$`)
)

func init() {
	plugins.MustRegister(Identity, New)
}

// Result is the analysis result of one file
type Result struct {
	IsKernelConfig bool              `json:"is_kernel_config"`
	Compression    string            `json:"compression"`
	Architecture   string            `json:"architecture,omitempty"`
	KernelVersion  string            `json:"kernel_version,omitempty"`
	Options        map[string]string `json:"options"`
	Unset          []string          `json:"unset"`
}

// Plugin detects Linux kernel configurations, plain, compressed or embedded
// in a kernel image.
type Plugin struct {
	decompressor *decomp.Decompressor
	log          *logrus.Entry
}

// New builds the plugin, importing the decompression helper of this package.
func New(env *plugins.Env) (plugins.Plugin, error) {
	m, err := env.Import("..internal.decomp")
	if err != nil {
		return nil, err
	}
	shared, ok := m.Value.(*decomp.Decompressor)
	if !ok {
		return nil, fmt.Errorf("unexpected decompression helper %T", m.Value)
	}

	d := *shared
	d.Limit = maxSize(env.Config().Backend(), shared.Limit)
	env.Log().WithField("limit", d.Limit).Debug("Kernel config plugin ready")

	return &Plugin{decompressor: &d, log: env.Log()}, nil
}

func maxSize(backend *config.BackendConfig, def int64) int64 {
	if backend == nil {
		return def
	}
	if n := backend.Plugin[Name].Int(OptionMaxSize, 0); n > 0 {
		return int64(n)
	}
	return def
}

func (p *Plugin) MetaData() plugins.MetaData {
	return plugins.MetaData{
		Name:         Name,
		Description:  "Detects Linux kernel configuration files and lists their options",
		Version:      "0.3.0",
		Dependencies: []string{"file_type"},
		MimeWhitelist: []string{
			"text/plain",
			"application/gzip",
			"application/x-bzip2",
			"application/x-xz",
			"application/octet-stream",
			"application/x-executable",
		},
		Timeout: 60 * time.Second,
		Schema:  Result{},
	}
}

// Analyze reads file and reports whether it holds a kernel configuration
func (p *Plugin) Analyze(ctx context.Context, file io.Reader, vfp objects.VirtualFilePath, _ map[string]any) (any, error) {
	data, err := io.ReadAll(io.LimitReader(file, p.decompressor.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", vfp, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := p.expand(data, vfp)
	for _, c := range candidates {
		if r := parse(c.text, c.compression); r.IsKernelConfig {
			return r, nil
		}
	}
	return notConfig(candidates[0].compression), nil
}

type candidate struct {
	text        []byte
	compression string
}

// expand lists the texts that may hold a configuration: an embedded block,
// else every stream found in data followed by data itself.
func (p *Plugin) expand(data []byte, vfp objects.VirtualFilePath) []candidate {
	if embedded, ok, err := p.decompressor.Embedded(data); ok {
		if err != nil {
			p.log.WithField("file", vfp).WithError(err).Warn("Could not extract embedded kernel config")
			return []candidate{{compression: compressionIkconfig}}
		}
		return []candidate{{text: embedded, compression: compressionIkconfig}}
	}

	var candidates []candidate
	for _, s := range p.decompressor.Scan(data) {
		p.log.WithFields(logrus.Fields{
			"file":   vfp,
			"format": s.Format,
			"offset": s.Offset,
		}).Debug("Found compressed stream")
		candidates = append(candidates, candidate{text: s.Data, compression: string(s.Format)})
	}
	return append(candidates, candidate{text: data, compression: string(decomp.None)})
}

// parse accepts text as a kernel configuration when it has at least one
// option line and nothing but options, comments and blank lines.
func parse(text []byte, compression string) Result {
	r := Result{
		Compression: compression,
		Options:     map[string]string{},
		Unset:       []string{},
	}

	s := bufio.NewScanner(bytes.NewReader(text))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == "":
		case optionSet.MatchString(line):
			m := optionSet.FindStringSubmatch(line)
			r.Options[m[1]] = strings.Trim(m[2], `"`)
		case optionUnset.MatchString(line):
			r.Unset = append(r.Unset, optionUnset.FindStringSubmatch(line)[1])
		case header.MatchString(line):
			m := header.FindStringSubmatch(line)
			r.Architecture, r.KernelVersion = m[1], m[2]
		case oldHeader.MatchString(line):
			r.KernelVersion = oldHeader.FindStringSubmatch(line)[1]
		case strings.HasPrefix(line, "#"):
		default:
			return notConfig(compression)
		}
	}
	if s.Err() != nil || len(r.Options)+len(r.Unset) == 0 {
		return notConfig(compression)
	}

	sort.Strings(r.Unset)
	r.IsKernelConfig = true
	return r
}

func notConfig(compression string) Result {
	return Result{
		Compression: compression,
		Options:     map[string]string{},
		Unset:       []string{},
	}
}

// Summarize reports a found configuration and its kernel version
func (p *Plugin) Summarize(result any) []string {
	var r Result
	switch v := result.(type) {
	case Result:
		r = v
	case *Result:
		if v == nil {
			return nil
		}
		r = *v
	default:
		return nil
	}

	if !r.IsKernelConfig {
		return []string{}
	}
	summary := []string{"Kernel Config"}
	if r.KernelVersion != "" {
		summary = append(summary, "Linux "+r.KernelVersion)
	}
	return summary
}
