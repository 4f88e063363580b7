// Package config loads CLI configuration for QuerySight.
//
// Precedence (highest to lowest): flags > environment variables >
// config file > defaults. The config file is querysight.yaml (or .yml)
// in the working directory unless --config points elsewhere.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in context.
// This key is shared with root.go via both using the same type.
type loggerKey struct{}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config // Stores the loaded config for access by commands
)

// Default configuration values.
const (
	DefaultCachePath    = ".querysight/cache.db"
	DefaultCacheTTL     = 24 // hours
	DefaultDays         = 7
	DefaultFocus        = "all"
	DefaultMinFrequency = 2
	DefaultOutput       = "table"
	DefaultPort         = 9000
	DefaultHost         = "localhost"
	DefaultDatabase     = "default"
	DefaultUsername     = "default"
)

// ClickHouseConfig holds warehouse connection settings.
type ClickHouseConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Secure   bool   `koanf:"secure"`
	// DialTimeoutSeconds bounds connection establishment; 0 uses the
	// driver default.
	DialTimeoutSeconds int `koanf:"dial_timeout_seconds"`
}

// DbtConfig locates the dbt project to map queries against.
type DbtConfig struct {
	// ProjectDir is the dbt project root (holds dbt_project.yml).
	// Empty disables model mapping and coverage.
	ProjectDir string `koanf:"project_dir"`
}

// CacheConfig controls the local analysis cache.
type CacheConfig struct {
	Path     string `koanf:"path"`
	TTLHours int    `koanf:"ttl_hours"`
}

// AnalysisConfig holds default retrieval and aggregation settings.
// Command flags override these per invocation.
type AnalysisConfig struct {
	Days           int      `koanf:"days"`
	Focus          string   `koanf:"focus"`
	MinFrequency   int      `koanf:"min_frequency"`
	Workers        int      `koanf:"workers"`
	SampleFraction float64  `koanf:"sample_fraction"`
	Limit          int      `koanf:"limit"`
	IncludeUsers   []string `koanf:"include_users"`
	ExcludeUsers   []string `koanf:"exclude_users"`
	QueryKinds     []string `koanf:"query_kinds"`
}

// Config holds all CLI configuration options.
type Config struct {
	ClickHouse   ClickHouseConfig `koanf:"clickhouse"`
	Dbt          DbtConfig        `koanf:"dbt"`
	Cache        CacheConfig      `koanf:"cache"`
	Analysis     AnalysisConfig   `koanf:"analysis"`
	Verbose      bool             `koanf:"verbose"`
	OutputFormat string           `koanf:"output"`
}

// Validate checks the loaded configuration for values no command could
// act on.
func (c *Config) Validate() error {
	if c.ClickHouse.Port <= 0 || c.ClickHouse.Port > 65535 {
		return fmt.Errorf("clickhouse.port %d outside (0, 65535]", c.ClickHouse.Port)
	}
	switch c.Analysis.Focus {
	case "all", "slow", "frequent":
	default:
		return fmt.Errorf("analysis.focus %q must be all, slow, or frequent", c.Analysis.Focus)
	}
	if c.Analysis.Days <= 0 {
		return fmt.Errorf("analysis.days must be positive, got %d", c.Analysis.Days)
	}
	if c.Analysis.SampleFraction < 0 || c.Analysis.SampleFraction > 1 {
		return fmt.Errorf("analysis.sample_fraction %v outside [0,1]", c.Analysis.SampleFraction)
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required")
	}
	return nil
}

// findConfigFile finds the config file to use.
// Priority: explicit path > querysight.yaml > querysight.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"querysight.yaml", "querysight.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// flagKeys maps persistent flag names to config keys. Flags not listed
// here fall back to the kebab-to-snake transform.
var flagKeys = map[string]string{
	"host":        "clickhouse.host",
	"port":        "clickhouse.port",
	"database":    "clickhouse.database",
	"user":        "clickhouse.username",
	"password":    "clickhouse.password",
	"secure":      "clickhouse.secure",
	"project-dir": "dbt.project_dir",
	"cache":       "cache.path",
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and
// flags. Environment variables use the QUERYSIGHT_ prefix with a double
// underscore separating nesting levels: QUERYSIGHT_CLICKHOUSE__HOST
// maps to clickhouse.host.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"clickhouse.host":          DefaultHost,
		"clickhouse.port":          DefaultPort,
		"clickhouse.database":      DefaultDatabase,
		"clickhouse.username":      DefaultUsername,
		"cache.path":               DefaultCachePath,
		"cache.ttl_hours":          DefaultCacheTTL,
		"analysis.days":            DefaultDays,
		"analysis.focus":           DefaultFocus,
		"analysis.min_frequency":   DefaultMinFrequency,
		"analysis.sample_fraction": 0.0,
		"verbose":                  false,
		"output":                   DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file if present
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (QUERYSIGHT_ prefix)
	// Transform: QUERYSIGHT_CLICKHOUSE__HOST -> clickhouse.host
	if err := k.Load(env.Provider("QUERYSIGHT_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "QUERYSIGHT_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			if key, ok := flagKeys[f.Name]; ok {
				return key, posflag.FlagVal(flags, f)
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Expand ${VAR} references in credentials so config files can stay
	// secret-free.
	cfg.ClickHouse.Host = expandEnvVars(cfg.ClickHouse.Host)
	cfg.ClickHouse.Username = expandEnvVars(cfg.ClickHouse.Username)
	cfg.ClickHouse.Password = expandEnvVars(cfg.ClickHouse.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store config for access by commands
	currentConfig = &cfg

	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// SetCurrentConfig overrides the loaded configuration. Used for testing.
func SetCurrentConfig(cfg *Config) {
	currentConfig = cfg
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// expandEnvVars expands ${VAR} patterns in a string with environment
// variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
