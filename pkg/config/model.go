package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Config holds the three configuration sections. Backend and Frontend are nil
// when the document omits them; Common is always set on a successful load.
// A loaded Config must not be modified.
type Config struct {
	Backend  *BackendConfig
	Frontend *FrontendConfig
	Common   *CommonConfig

	// Source is the path the document was read from.
	Source string
}

// CommonConfig holds settings shared by every component
type CommonConfig struct {
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RedisConfig holds the cache connection settings
type RedisConfig struct {
	FactDB string `mapstructure:"fact_db"`
	TestDB string `mapstructure:"test_db"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Addr returns the host:port address of the redis server.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// DB returns the numeric database index, the test database when test is set.
func (r RedisConfig) DB(test bool) (int, error) {
	raw := r.FactDB
	if test {
		raw = r.TestDB
	}
	db, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid redis database %q: %w", raw, err)
	}
	return db, nil
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// FrontendConfig holds presentation tier settings
type FrontendConfig struct {
	ResultsPerPage                   int    `mapstructure:"results_per_page"`
	NumberOfLatestFirmwaresToDisplay int    `mapstructure:"number_of_latest_firmwares_to_display" default:"10"`
	AjaxStatsReloadTime              int    `mapstructure:"ajax_stats_reload_time"`
	MaxElementsPerChart              int    `mapstructure:"max_elements_per_chart" default:"10"`
	Radare2Host                      string `mapstructure:"radare2_host"`
}

// BackendConfig holds service critical settings
type BackendConfig struct {
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Unpacking UnpackingConfig `mapstructure:"unpacking"`
	UserStore UserStoreConfig `mapstructure:"userstore"`

	FirmwareFileStorageDirectory string `mapstructure:"firmware_file_storage_directory"`
	TempDirPath                  string `mapstructure:"temp_dir_path" default:"/tmp"`
	DockerMountBaseDir           string `mapstructure:"docker_mount_base_dir"`

	Authentication bool `mapstructure:"authentication"`

	BlockDelay   float64 `mapstructure:"block_delay"`
	SSDeepIgnore int     `mapstructure:"ssdeep_ignore"`

	CommunicationTimeout int `mapstructure:"communication_timeout" default:"60"`

	IntercomPollDelay float64 `mapstructure:"intercom_poll_delay"`

	ThrowExceptions bool `mapstructure:"throw_exceptions"`

	// Plugin and Presets are built from the [[backend.plugin]] and
	// [[backend.presets]] record lists, keyed by name.
	Plugin  map[string]*PluginSpec `mapstructure:"plugin"`
	Presets map[string]*PresetSpec `mapstructure:"presets"`
}

// PresetsFor returns the sorted names of the presets that activate plugin.
func (b *BackendConfig) PresetsFor(plugin string) []string {
	var names []string
	for name, preset := range b.Presets {
		for _, p := range preset.Plugins {
			if p == plugin {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// PostgresConfig holds the database connection settings
type PostgresConfig struct {
	Server       string `mapstructure:"server"`
	Port         int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Database     string `mapstructure:"database"`
	TestDatabase string `mapstructure:"test_database"`

	ROUser string `mapstructure:"ro_user"`
	ROPw   string `mapstructure:"ro_pw"`

	RWUser string `mapstructure:"rw_user"`
	RWPw   string `mapstructure:"rw_pw"`

	DelUser string `mapstructure:"del_user"`
	DelPw   string `mapstructure:"del_pw"`

	AdminUser string `mapstructure:"admin_user"`
	AdminPw   string `mapstructure:"admin_pw"`
}

// Role selects the database credentials to use
type Role string

const (
	RoleReadOnly  Role = "ro"
	RoleReadWrite Role = "rw"
	RoleDelete    Role = "del"
	RoleAdmin     Role = "admin"
)

// DSN returns a lib/pq keyword/value connection string for role.
func (p PostgresConfig) DSN(role Role, test bool) string {
	user, password := p.credentials(role)
	database := p.Database
	if test {
		database = p.TestDatabase
	}

	parts := []string{
		"host=" + quoteDSN(p.Server),
		"port=" + strconv.Itoa(p.Port),
		"dbname=" + quoteDSN(database),
		"user=" + quoteDSN(user),
		"password=" + quoteDSN(password),
		"sslmode=disable",
	}
	return strings.Join(parts, " ")
}

func (p PostgresConfig) credentials(role Role) (string, string) {
	switch role {
	case RoleReadWrite:
		return p.RWUser, p.RWPw
	case RoleDelete:
		return p.DelUser, p.DelPw
	case RoleAdmin:
		return p.AdminUser, p.AdminPw
	default:
		return p.ROUser, p.ROPw
	}
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// UnpackingConfig holds extraction limits
type UnpackingConfig struct {
	Processes     int      `mapstructure:"processes"`
	Whitelist     []string `mapstructure:"whitelist"`
	MaxDepth      int      `mapstructure:"max_depth"`
	MemoryLimit   int      `mapstructure:"memory_limit" default:"2048"`
	Threshold     float64  `mapstructure:"threshold"`
	ThrottleLimit int      `mapstructure:"throttle_limit"`
}

// UserStoreConfig holds the user database settings
type UserStoreConfig struct {
	UserDatabase string `mapstructure:"user_database"`
	PasswordSalt string `mapstructure:"password_salt"`
}

// PluginSpec references a plugin by name. Keys other than name are plugin
// specific and kept in Options.
type PluginSpec struct {
	Name    string         `mapstructure:"name"`
	Options map[string]any `mapstructure:",remain"`
}

// Int returns the integer option key, or def when it is absent or not an integer.
func (p *PluginSpec) Int(key string, def int) int {
	if p == nil {
		return def
	}
	switch v := p.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return def
	}
}

// PresetSpec is a named, ordered group of plugins activated together
type PresetSpec struct {
	Name    string   `mapstructure:"name"`
	Plugins []string `mapstructure:"plugins"`
}
