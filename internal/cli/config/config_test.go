package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.ClickHouse.Host)
	assert.Equal(t, DefaultPort, cfg.ClickHouse.Port)
	assert.Equal(t, DefaultDatabase, cfg.ClickHouse.Database)
	assert.Equal(t, DefaultCachePath, cfg.Cache.Path)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTLHours)
	assert.Equal(t, DefaultDays, cfg.Analysis.Days)
	assert.Equal(t, DefaultFocus, cfg.Analysis.Focus)
	assert.Equal(t, DefaultMinFrequency, cfg.Analysis.MinFrequency)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, cfg.Dbt.ProjectDir)

	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_File(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	path := filepath.Join(t.TempDir(), "querysight.yaml")
	content := `
clickhouse:
  host: ch.internal
  port: 9440
  secure: true
dbt:
  project_dir: /srv/dbt
analysis:
  days: 30
  focus: slow
  include_users:
    - etl
    - dashboards
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "ch.internal", cfg.ClickHouse.Host)
	assert.Equal(t, 9440, cfg.ClickHouse.Port)
	assert.True(t, cfg.ClickHouse.Secure)
	assert.Equal(t, "/srv/dbt", cfg.Dbt.ProjectDir)
	assert.Equal(t, 30, cfg.Analysis.Days)
	assert.Equal(t, "slow", cfg.Analysis.Focus)
	assert.Equal(t, []string{"etl", "dashboards"}, cfg.Analysis.IncludeUsers)
	assert.Equal(t, path, GetConfigFileUsed())

	// Unset keys keep defaults.
	assert.Equal(t, DefaultCachePath, cfg.Cache.Path)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	path := filepath.Join(t.TempDir(), "querysight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clickhouse:\n  host: from-file\n"), 0o644))

	t.Setenv("QUERYSIGHT_CLICKHOUSE__HOST", "from-env")
	t.Setenv("QUERYSIGHT_ANALYSIS__DAYS", "14")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ClickHouse.Host)
	assert.Equal(t, 14, cfg.Analysis.Days)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	t.Setenv("QUERYSIGHT_CLICKHOUSE__HOST", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "", "")
	flags.String("cache", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--host=from-flag", "--cache=/tmp/qs.db", "--verbose"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.ClickHouse.Host)
	assert.Equal(t, "/tmp/qs.db", cfg.Cache.Path)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_UnchangedFlagsIgnored(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.ClickHouse.Host)
}

func TestLoadConfig_ExpandsCredentialEnvVars(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	path := filepath.Join(t.TempDir(), "querysight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clickhouse:\n  password: ${CH_SECRET}\n"), 0o644))

	t.Setenv("CH_SECRET", "hunter2")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.ClickHouse.Password)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad focus", "analysis:\n  focus: fastest\n"},
		{"bad port", "clickhouse:\n  port: -1\n"},
		{"bad sample", "analysis:\n  sample_fraction: 1.5\n"},
		{"zero days", "analysis:\n  days: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			t.Cleanup(ResetConfig)

			path := filepath.Join(t.TempDir(), "querysight.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := LoadConfig(path, nil)
			assert.Error(t, err)
		})
	}
}

func TestGetLogger_FallsBackToDiscard(t *testing.T) {
	logger := GetLogger(context.Background())
	require.NotNil(t, logger)
}
