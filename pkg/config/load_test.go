package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/factcore/pkg/schema"
)

const commonOnlyTOML = `
[common.redis]
fact_db = "0"
test_db = "1"
host = "localhost"
port = 6379

[common.logging]
level = "INFO"
file = "/var/log/x.log"
`

const commonOnlyYAML = `
common:
  redis:
    fact-db: "0"
    test-db: "1"
    host: localhost
    port: 6379
  logging:
    level: INFO
    file: /var/log/x.log
`

// fullDocument returns a document with every section, using tempDir as the
// backend temp directory.
func fullDocument(tempDir string) string {
	return fmt.Sprintf(`
[backend]
firmware-file-storage-directory = "/media/data/fact_fw_data"
temp-dir-path = '%s'
docker-mount-base-dir = "/tmp/fact-docker-mount-base-dir"
authentication = false
block-delay = 0.1
ssdeep-ignore = 1
intercom-poll-delay = 1
throw-exceptions = false

[backend.postgres]
server = "db.internal"
port = 5432
database = "fact_db"
test-database = "fact_test"
ro-user = "ro"
ro-pw = "ro-secret"
rw-user = "rw"
rw-pw = "rw-secret"
del-user = "del"
del-pw = "del-secret"
admin-user = "admin"
admin-pw = "admin secret"

[backend.unpacking]
processes = 2
whitelist = ["text/plain", "image/png"]
max-depth = 8
threshold = 0.8
throttle-limit = 50

[backend.userstore]
user-database = "sqlite:///users.db"
password-salt = "salt"

[[backend.presets]]
name = "default"
plugins = ["cpu_architecture", "kernel_config"]

[[backend.presets]]
name = "minimal"
plugins = ["file_type"]

[[backend.plugin]]
name = "cpu_architecture"
processes = 4

[[backend.plugin]]
name = "kernel_config"
processes = 2
max-file-size = 1024

[frontend]
results-per-page = 10
ajax-stats-reload-time = 10000
radare2-host = "localhost"

[common.redis]
fact-db = "3"
test-db = "13"
host = "localhost"
port = 6379

[common.logging]
level = "WARNING"
file = "/tmp/fact_main.log"
`, tempDir)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(t *testing.T) (*Loader, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return NewLoader(log, WithState(NewState())), hook
}

func requireValidationError(t *testing.T, err error) *schema.ValidationError {
	t.Helper()
	require.Error(t, err)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr), "expected *schema.ValidationError, got %T: %v", err, err)
	return verr
}

func TestLoad_CommonOnly(t *testing.T) {
	for name, doc := range map[string]struct {
		file    string
		content string
	}{
		"toml": {file: "fact-core.toml", content: commonOnlyTOML},
		"yaml": {file: "fact-core.yaml", content: commonOnlyYAML},
	} {
		t.Run(name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			path := writeConfig(t, doc.file, doc.content)

			cfg, err := loader.Load(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, path, cfg.Source)
			assert.Equal(t, []string{"common"}, cfg.Sections())

			state := loader.State()
			assert.True(t, state.Loaded())
			assert.Nil(t, state.Backend())
			assert.Nil(t, state.Frontend())

			common := state.Common()
			require.NotNil(t, common)
			assert.Equal(t, RedisConfig{FactDB: "0", TestDB: "1", Host: "localhost", Port: 6379}, common.Redis)
			assert.Equal(t, LoggingConfig{Level: "INFO", File: "/var/log/x.log"}, common.Logging)
		})
	}
}

func TestParse_FullDocument(t *testing.T) {
	loader, _ := newTestLoader(t)
	tempDir := t.TempDir()
	path := writeConfig(t, "fact-core.toml", fullDocument(tempDir))

	cfg, err := loader.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, loader.State().Loaded(), "Parse must not publish")

	backend := cfg.Backend
	require.NotNil(t, backend)
	assert.Equal(t, tempDir, backend.TempDirPath)
	assert.Equal(t, 60, backend.CommunicationTimeout, "default applies when omitted")
	assert.Equal(t, 1.0, backend.IntercomPollDelay)
	assert.Equal(t, "db.internal", backend.Postgres.Server)
	assert.Equal(t, 2048, backend.Unpacking.MemoryLimit, "nested default applies when omitted")
	assert.Equal(t, 8, backend.Unpacking.MaxDepth)
	assert.Equal(t, []string{"text/plain", "image/png"}, backend.Unpacking.Whitelist)

	require.Len(t, backend.Presets, 2)
	assert.Equal(t, []string{"cpu_architecture", "kernel_config"}, backend.Presets["default"].Plugins)
	require.Len(t, backend.Plugin, 2)
	assert.Equal(t, 4, backend.Plugin["cpu_architecture"].Int("processes", 1))
	assert.Equal(t, 1024, backend.Plugin["kernel_config"].Int("max_file_size", 0))

	frontend := cfg.Frontend
	require.NotNil(t, frontend)
	assert.Equal(t, 10, frontend.ResultsPerPage)
	assert.Equal(t, 10, frontend.NumberOfLatestFirmwaresToDisplay)
	assert.Equal(t, 10, frontend.MaxElementsPerChart)

	require.NotNil(t, cfg.Common)
	assert.Equal(t, "3", cfg.Common.Redis.FactDB)
}

func TestParse_MissingCommon(t *testing.T) {
	loader, _ := newTestLoader(t)
	previous := writeConfig(t, "previous.toml", commonOnlyTOML)
	_, err := loader.Load(context.Background(), previous)
	require.NoError(t, err)
	before := loader.State().Current()

	path := writeConfig(t, "fact-core.toml", `
[frontend]
results-per-page = 10
ajax-stats-reload-time = 10000
radare2-host = "localhost"
`)
	_, err = loader.Load(context.Background(), path)
	verr := requireValidationError(t, err)
	assert.Equal(t, "common", verr.Section)
	assert.True(t, verr.Has("common", schema.ConstraintMissing))

	assert.Same(t, before, loader.State().Current(), "failed load must not publish")
}

func TestParse_MissingCommonPublishesNothing(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := writeConfig(t, "fact-core.toml", "[frontend]\nresults-per-page = 10\n")

	_, err := loader.Load(context.Background(), path)
	requireValidationError(t, err)
	assert.False(t, loader.State().Loaded())
	assert.Nil(t, loader.State().Common())
}

func TestParse_FileNotFound(t *testing.T) {
	loader, _ := newTestLoader(t)
	_, err := loader.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		format  string
	}{
		{name: "toml", file: "bad.toml", content: "[common\nredis = ", format: FormatTOML},
		{name: "yaml", file: "bad.yml", content: "common: [unclosed", format: FormatYAML},
		{name: "key collision", file: "dup.toml", content: "[common]\nfact-db = 1\nfact_db = 2\n", format: FormatTOML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			path := writeConfig(t, tt.file, tt.content)

			_, err := loader.Parse(context.Background(), path)
			require.Error(t, err)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "expected *ParseError, got %T", err)
			assert.Equal(t, tt.format, perr.Format)
			assert.Equal(t, path, perr.Path)
		})
	}
}

func TestParse_SectionIssues(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(doc string) string
		section    string
		field      string
		constraint schema.Constraint
	}{
		{
			name:       "unknown backend key",
			mutate:     func(doc string) string { return replaceOnce(doc, "[backend]\n", "[backend]\nbogus-key = 1\n") },
			section:    "backend",
			field:      "bogus_key",
			constraint: schema.ConstraintUnknown,
		},
		{
			name:       "unknown unpacking key",
			mutate:     func(doc string) string { return replaceOnce(doc, "[backend.unpacking]\n", "[backend.unpacking]\nextra = true\n") },
			section:    "backend",
			field:      "unpacking.extra",
			constraint: schema.ConstraintUnknown,
		},
		{
			name:       "wrong type",
			mutate:     func(doc string) string { return replaceOnce(doc, "authentication = false", `authentication = "no"`) },
			section:    "backend",
			field:      "authentication",
			constraint: schema.ConstraintType,
		},
		{
			name:       "preset record missing plugins",
			mutate:     func(doc string) string { return replaceOnce(doc, `plugins = ["file_type"]`, "") },
			section:    "backend",
			field:      "presets[1].plugins",
			constraint: schema.ConstraintMissing,
		},
		{
			name:       "unknown preset key",
			mutate:     func(doc string) string { return replaceOnce(doc, `plugins = ["file_type"]`, "plugins = [\"file_type\"]\nlabel = \"x\"") },
			section:    "backend",
			field:      "presets[1].label",
			constraint: schema.ConstraintUnknown,
		},
		{
			name:       "port out of range",
			mutate:     func(doc string) string { return replaceOnce(doc, "port = 6379", "port = 70000") },
			section:    "common",
			field:      "redis.port",
			constraint: schema.ConstraintValidate,
		},
		{
			name:       "common missing field",
			mutate:     func(doc string) string { return replaceOnce(doc, `host = "localhost"`+"\nport = 6379", `host = "localhost"`) },
			section:    "common",
			field:      "redis.port",
			constraint: schema.ConstraintMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			path := writeConfig(t, "fact-core.toml", tt.mutate(fullDocument(t.TempDir())))

			_, err := loader.Parse(context.Background(), path)
			verr := requireValidationError(t, err)
			assert.Equal(t, tt.section, verr.Section)
			assert.True(t, verr.Has(tt.field, tt.constraint), "issues: %v", verr.Issues)
		})
	}
}

func TestParse_ReportsEveryIssueInTable(t *testing.T) {
	loader, _ := newTestLoader(t)
	doc := replaceOnce(fullDocument(t.TempDir()), "port = 6379", "port = \"6379\"\nbogus = 1")
	path := writeConfig(t, "fact-core.toml", doc)

	_, err := loader.Parse(context.Background(), path)
	verr := requireValidationError(t, err)
	assert.Equal(t, "common", verr.Section)
	assert.True(t, verr.Has("redis.port", schema.ConstraintType), "issues: %v", verr.Issues)
	assert.True(t, verr.Has("redis.bogus", schema.ConstraintUnknown), "issues: %v", verr.Issues)
}

func TestParse_AcceptsUnconstrainedValues(t *testing.T) {
	tests := []struct {
		name   string
		old    string
		new    string
		verify func(t *testing.T, cfg *Config)
	}{
		{
			name: "zero results per page",
			old:  "results-per-page = 10",
			new:  "results-per-page = 0",
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Frontend.ResultsPerPage)
			},
		},
		{
			name: "zero unpacking processes",
			old:  "processes = 2",
			new:  "processes = 0",
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0, cfg.Backend.Unpacking.Processes)
			},
		},
		{
			name: "threshold above one",
			old:  "threshold = 0.8",
			new:  "threshold = 1.5",
			verify: func(t *testing.T, cfg *Config) {
				assert.InDelta(t, 1.5, cfg.Backend.Unpacking.Threshold, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			path := writeConfig(t, "fact-core.toml", replaceOnce(fullDocument(t.TempDir()), tt.old, tt.new))

			cfg, err := loader.Parse(context.Background(), path)
			require.NoError(t, err)
			tt.verify(t, cfg)
		})
	}
}

func replaceOnce(doc, old, new string) string {
	if !strings.Contains(doc, old) {
		panic("fixture text not found: " + old)
	}
	return strings.Replace(doc, old, new, 1)
}

func TestParse_PluginListMustBeRecords(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := writeConfig(t, "fact-core.yaml", `
backend:
  plugin: cpu_architecture
common:
  redis: {fact_db: "0", test_db: "1", host: localhost, port: 6379}
  logging: {level: INFO, file: /tmp/x.log}
`)

	_, err := loader.Parse(context.Background(), path)
	verr := requireValidationError(t, err)
	assert.Equal(t, "backend", verr.Section)
	assert.True(t, verr.Has("plugin", schema.ConstraintType), "issues: %v", verr.Issues)
}

// Duplicate names resolve to the later record. This mirrors long-standing
// behavior and is documented rather than endorsed.
func TestParse_DuplicateRecordsLastWins(t *testing.T) {
	loader, hook := newTestLoader(t)
	doc := fullDocument(t.TempDir()) + `
[[backend.presets]]
name = "minimal"
plugins = ["file_type", "file_hashes"]

[[backend.plugin]]
name = "cpu_architecture"
processes = 8
`
	path := writeConfig(t, "fact-core.toml", doc)

	cfg, err := loader.Parse(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, cfg.Backend.Presets, 2)
	assert.Equal(t, []string{"file_type", "file_hashes"}, cfg.Backend.Presets["minimal"].Plugins)
	require.Len(t, cfg.Backend.Plugin, 2)
	assert.Equal(t, 8, cfg.Backend.Plugin["cpu_architecture"].Int("processes", 1))

	var duplicates int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.DebugLevel && entry.Message == "Duplicate record name, later entry replaces earlier one" {
			duplicates++
		}
	}
	assert.Equal(t, 2, duplicates)
}

func TestParse_HyphenatedOptionKeys(t *testing.T) {
	loader, _ := newTestLoader(t)
	doc := fullDocument(t.TempDir()) + `
[[backend.plugin]]
name = "binwalk"
max-depth = 3

[backend.plugin.nested-table]
inner-key = "v"
`
	path := writeConfig(t, "fact-core.toml", doc)

	cfg, err := loader.Parse(context.Background(), path)
	require.NoError(t, err)

	binwalk := cfg.Backend.Plugin["binwalk"]
	require.NotNil(t, binwalk)
	assert.Equal(t, 3, binwalk.Int("max_depth", 0))
	assert.NotContains(t, binwalk.Options, "max-depth")

	nested, ok := binwalk.Options["nested_table"].(map[string]any)
	require.True(t, ok, "options: %v", binwalk.Options)
	assert.Equal(t, "v", nested["inner_key"])
}

func TestParse_TempDirInvariant(t *testing.T) {
	notADir := writeConfig(t, "file", "x")

	tests := []struct {
		name    string
		tempDir string
		reason  string
	}{
		{name: "missing", tempDir: filepath.Join(t.TempDir(), "gone"), reason: "does not exist"},
		{name: "not a directory", tempDir: notADir, reason: "is not a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			path := writeConfig(t, "fact-core.toml", fullDocument(tt.tempDir))

			_, err := loader.Load(context.Background(), path)
			require.Error(t, err)
			var ierr *InvariantError
			require.True(t, errors.As(err, &ierr), "expected *InvariantError, got %T", err)
			assert.Equal(t, "backend", ierr.Section)
			assert.Equal(t, "temp_dir_path", ierr.Field)
			assert.Equal(t, tt.tempDir, ierr.Value)
			assert.Equal(t, tt.reason, ierr.Reason)
			assert.Contains(t, err.Error(), tt.tempDir)
			assert.False(t, loader.State().Loaded())
		})
	}
}

func TestLoad_ReplacesAllSections(t *testing.T) {
	loader, _ := newTestLoader(t)
	state := loader.State()

	readBackend := state.Backend
	assert.Nil(t, readBackend())

	full := writeConfig(t, "full.toml", fullDocument(t.TempDir()))
	_, err := loader.Load(context.Background(), full)
	require.NoError(t, err)
	require.NotNil(t, readBackend(), "accessor taken before load observes the loaded value")
	assert.Equal(t, "3", state.Common().Redis.FactDB)
	firstGen := state.Generation()

	commonOnly := writeConfig(t, "common.toml", commonOnlyTOML)
	_, err = loader.Load(context.Background(), commonOnly)
	require.NoError(t, err)

	assert.Nil(t, readBackend())
	assert.Nil(t, state.Frontend())
	assert.Equal(t, "0", state.Common().Redis.FactDB)
	assert.Greater(t, state.Generation(), firstGen)
}

func TestParse_EmbeddedDefault(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	loader, _ := newTestLoader(t)

	cfg, err := loader.Parse(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, EmbeddedSource, cfg.Source)
	require.NotNil(t, cfg.Backend)
	require.NotNil(t, cfg.Frontend)
	assert.Equal(t, "/tmp", cfg.Backend.TempDirPath)
	assert.Equal(t, []string{"default", "minimal"}, cfg.Backend.PresetsFor("file_type"))
	assert.NotEmpty(t, DefaultDocument())
}

func TestParse_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "env.toml", commonOnlyTOML)
	t.Setenv(EnvConfigFile, path)

	assert.Equal(t, path, ResolvePath(""))
	assert.Equal(t, "/explicit.toml", ResolvePath("/explicit.toml"))

	loader, _ := newTestLoader(t)
	cfg, err := loader.Parse(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Source)
	assert.Nil(t, cfg.Backend)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatTOML, FormatFor("fact-core.toml"))
	assert.Equal(t, FormatYAML, FormatFor("fact-core.yaml"))
	assert.Equal(t, FormatYAML, FormatFor("FACT.YML"))
	assert.Equal(t, FormatTOML, FormatFor("main.cfg"))
	assert.Equal(t, FormatTOML, FormatFor(EmbeddedSource))
}

type recordingObserver struct {
	sources []string
	errs    []error
}

func (r *recordingObserver) ObserveConfigLoad(source string, err error, _ time.Duration) {
	r.sources = append(r.sources, source)
	r.errs = append(r.errs, err)
}

func TestLoader_Observer(t *testing.T) {
	obs := &recordingObserver{}
	log, _ := test.NewNullLogger()
	loader := NewLoader(log, WithState(NewState()), WithObserver(obs))

	good := writeConfig(t, "good.toml", commonOnlyTOML)
	_, err := loader.Parse(context.Background(), good)
	require.NoError(t, err)

	_, err = loader.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	require.Len(t, obs.sources, 2)
	assert.Equal(t, good, obs.sources[0])
	assert.NoError(t, obs.errs[0])
	assert.ErrorIs(t, obs.errs[1], ErrConfigNotFound)
}

func TestPackageLoad_PublishesProcessWide(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	assert.Nil(t, Common())
	path := writeConfig(t, "fact-core.toml", commonOnlyTOML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Same(t, cfg, Current())
	assert.Same(t, cfg.Common, Common())
	assert.Nil(t, Backend())
	assert.Nil(t, Frontend())

	parsed, err := Parse(path)
	require.NoError(t, err)
	assert.NotSame(t, parsed, Current())
}

func TestLoad_LogsUnknownSection(t *testing.T) {
	loader, hook := newTestLoader(t)
	path := writeConfig(t, "fact-core.toml", commonOnlyTOML+"\n[plugins]\nfoo = 1\n")

	_, err := loader.Parse(context.Background(), path)
	require.NoError(t, err)

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Data["section"] == "plugins" {
			found = true
		}
	}
	assert.True(t, found)
}
