package kernelconfig

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/plugins"
	"github.com/platinummonkey/factcore/plugins/analysis/kernel_config/internal/decomp"
)

const dotConfig = `#
# Automatically generated file; DO NOT EDIT.
# Linux/arm 4.14.98 Kernel Configuration
#
CONFIG_ARM=y
CONFIG_SMP=y
CONFIG_LOCALVERSION="-custom"
# CONFIG_KASAN is not set
# CONFIG_DEBUG_INFO is not set

CONFIG_HZ=100
`

func load(t *testing.T) *Plugin {
	t.Helper()
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	fsys := fstest.MapFS{
		"plugins/analysis/kernel_config/code/kernel_config.go": {Data: []byte("package kernelconfig\n")},
		"plugins/analysis/kernel_config/code/doc.go":           {Data: []byte("package kernelconfig\n")},
	}
	loader := plugins.NewLoader(&plugins.Locator{Root: "/src", FS: fsys}, log,
		plugins.WithRegistry(plugins.NewRegistry()),
		plugins.WithConfig(config.NewState()),
	)

	d, err := loader.Discover(context.Background(), plugins.CategoryAnalysis)
	require.NoError(t, err)
	require.Empty(t, d.Failures)
	require.Len(t, d.Modules, 1)
	assert.Equal(t, Identity, d.Modules[0].Identity)

	p, ok := d.Modules[0].Plugin.(*Plugin)
	require.True(t, ok)
	return p
}

func analyze(t *testing.T, p *Plugin, data []byte) Result {
	t.Helper()
	res, err := plugins.RunAnalysis(context.Background(), p, bytes.NewReader(data), "fw.bin|/boot/config", nil)
	require.NoError(t, err)
	assert.Equal(t, Name, res.Plugin)

	r, ok := res.Result.(Result)
	require.True(t, ok)
	return r
}

func TestLoadImportsHelper(t *testing.T) {
	p := load(t)
	assert.Equal(t, int64(decomp.DefaultLimit), p.decompressor.Limit)
}

func TestAnalyzePlain(t *testing.T) {
	r := analyze(t, load(t), []byte(dotConfig))

	assert.True(t, r.IsKernelConfig)
	assert.Equal(t, "none", r.Compression)
	assert.Equal(t, "arm", r.Architecture)
	assert.Equal(t, "4.14.98", r.KernelVersion)
	assert.Equal(t, map[string]string{
		"CONFIG_ARM":          "y",
		"CONFIG_SMP":          "y",
		"CONFIG_LOCALVERSION": "-custom",
		"CONFIG_HZ":           "100",
	}, r.Options)
	assert.Equal(t, []string{"CONFIG_DEBUG_INFO", "CONFIG_KASAN"}, r.Unset)
}

func TestAnalyzeCompressed(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write([]byte(dotConfig))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write([]byte(dotConfig))
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	var lz bytes.Buffer
	lw, err := lzma.WriterConfig{DictCap: 1 << 24}.NewWriter(&lz)
	require.NoError(t, err)
	_, err = lw.Write([]byte(dotConfig))
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	image := append([]byte("\x7fELF kernel IKCFG_ST"), gz.Bytes()...)
	image = append(image, "IKCFG_ED"...)

	blob := append([]byte("\x7fELF\x02\x01\x01\x00 initramfs "), xzBuf.Bytes()...)
	blob = append(blob, "\x00\x00 rest of image"...)

	p := load(t)
	tests := []struct {
		name        string
		data        []byte
		compression string
	}{
		{"gzip", gz.Bytes(), "gzip"},
		{"xz", xzBuf.Bytes(), "xz"},
		{"lzma", lz.Bytes(), "lzma"},
		{"embedded", image, "ikconfig"},
		{"stream inside image", blob, "xz"},
		{"truncated gzip", gz.Bytes()[:gz.Len()-4], "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := analyze(t, p, tt.data)
			assert.True(t, r.IsKernelConfig)
			assert.Equal(t, tt.compression, r.Compression)
			assert.Equal(t, "4.14.98", r.KernelVersion)
			assert.Len(t, r.Options, 4)
		})
	}
}

func TestAnalyzeNotConfig(t *testing.T) {
	p := load(t)

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"comments only", "# just a comment\n\n"},
		{"mixed text", "CONFIG_SMP=y\nhello world\n"},
		{"binary", "\x7fELF\x01\x01\x01\x00"},
		{"corrupt gzip", "\x1f\x8b\x08garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := analyze(t, p, []byte(tt.data))
			assert.False(t, r.IsKernelConfig)
			assert.NotNil(t, r.Options)
			assert.NotNil(t, r.Unset)
		})
	}
}

func TestOldHeader(t *testing.T) {
	r := parse([]byte("# Linux kernel version: 2.6.32\nCONFIG_MIPS=y\n"), "none")
	assert.True(t, r.IsKernelConfig)
	assert.Equal(t, "2.6.32", r.KernelVersion)
	assert.Empty(t, r.Architecture)
}

func TestSummary(t *testing.T) {
	p := load(t)

	res, err := plugins.RunAnalysis(context.Background(), p, strings.NewReader(dotConfig), "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kernel Config", "Linux 4.14.98"}, res.Summary)

	assert.Equal(t, []string{}, p.Summarize(Result{}))
	assert.Equal(t, []string{"Kernel Config"}, p.Summarize(&Result{IsKernelConfig: true}))
	assert.Nil(t, p.Summarize("unexpected"))
}

func TestMaxSizeOption(t *testing.T) {
	assert.Equal(t, int64(10), maxSize(nil, 10))

	backend := &config.BackendConfig{
		Plugin: map[string]*config.PluginSpec{
			Name: {Name: Name, Options: map[string]any{OptionMaxSize: int64(4096)}},
		},
	}
	assert.Equal(t, int64(4096), maxSize(backend, 10))
	assert.Equal(t, int64(10), maxSize(&config.BackendConfig{}, 10))
}

func TestMetaData(t *testing.T) {
	md := (&Plugin{}).MetaData()
	assert.Empty(t, plugins.Errors(plugins.ValidateMetaData(md)))

	_, err := plugins.OutputSchemaFor(md.Schema)
	require.NoError(t, err)
}
