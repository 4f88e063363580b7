// Package commands implements the QuerySight subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querysight/internal/analyzer"
	"github.com/leapstack-labs/querysight/internal/cli/config"
	"github.com/leapstack-labs/querysight/internal/querylog"
	"github.com/leapstack-labs/querysight/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Store  state.Store
}

// NewCommandContext opens the analysis cache and bundles it with the
// loaded config and logger. Returns the context and a cleanup function
// that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = store.Close()
	}

	return &CommandContext{
		Cfg:    cfg,
		Logger: logger,
		Store:  store,
	}, cleanup, nil
}

// getConfig returns the current configuration, falling back to defaults
// when no command has loaded one (direct command construction in tests).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		ClickHouse: config.ClickHouseConfig{
			Host:     config.DefaultHost,
			Port:     config.DefaultPort,
			Database: config.DefaultDatabase,
			Username: config.DefaultUsername,
		},
		Cache: config.CacheConfig{
			Path:     config.DefaultCachePath,
			TTLHours: config.DefaultCacheTTL,
		},
		Analysis: config.AnalysisConfig{
			Days:         config.DefaultDays,
			Focus:        config.DefaultFocus,
			MinFrequency: config.DefaultMinFrequency,
		},
		OutputFormat: config.DefaultOutput,
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	// Ensure cache directory exists
	dir := filepath.Dir(cfg.Cache.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.Cache.Path); err != nil {
		return nil, fmt.Errorf("failed to open analysis cache: %w", err)
	}
	return store, nil
}

// newAnalyzer wires a warehouse client and the cache into an analyzer.
// The returned cleanup closes the warehouse connection.
func newAnalyzer(cmdCtx *CommandContext, refresh bool) (*analyzer.Analyzer, func(), error) {
	cfg := cmdCtx.Cfg

	client := querylog.NewClient(querylog.Config{
		Host:        cfg.ClickHouse.Host,
		Port:        cfg.ClickHouse.Port,
		Database:    cfg.ClickHouse.Database,
		Username:    cfg.ClickHouse.Username,
		Password:    cfg.ClickHouse.Password,
		Secure:      cfg.ClickHouse.Secure,
		DialTimeout: time.Duration(cfg.ClickHouse.DialTimeoutSeconds) * time.Second,
	}, cmdCtx.Logger)

	a, err := analyzer.New(analyzer.Config{
		Source:       client,
		Store:        cmdCtx.Store,
		CacheTTL:     time.Duration(cfg.Cache.TTLHours) * time.Hour,
		Refresh:      refresh,
		ProjectPath:  cfg.Dbt.ProjectDir,
		MinFrequency: cfg.Analysis.MinFrequency,
		Workers:      cfg.Analysis.Workers,
		Logger:       cmdCtx.Logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = client.Close()
	}
	return a, cleanup, nil
}

// filterFromConfig builds the retrieval filter for a window ending now.
func filterFromConfig(cfg *config.Config, now time.Time) querylog.Filter {
	an := cfg.Analysis
	return querylog.Filter{
		Start:          now.Add(-time.Duration(an.Days) * 24 * time.Hour),
		End:            now,
		IncludeUsers:   an.IncludeUsers,
		ExcludeUsers:   an.ExcludeUsers,
		Kinds:          an.QueryKinds,
		Focus:          querylog.Focus(an.Focus),
		SampleFraction: an.SampleFraction,
		Limit:          an.Limit,
	}
}

// latestRun loads the newest cached run regardless of fingerprint.
func latestRun(cmd *cobra.Command, store state.Store, runID string) (*state.Run, error) {
	if runID != "" {
		run, err := store.GetRun(cmd.Context(), runID)
		if err != nil {
			return nil, fmt.Errorf("load run %s: %w", runID, err)
		}
		return run, nil
	}

	runs, err := store.ListRuns(cmd.Context(), 1)
	if err != nil {
		return nil, fmt.Errorf("list cached runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no cached analysis runs; run 'querysight analyze' first")
	}
	run, err := store.GetRun(cmd.Context(), runs[0].ID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runs[0].ID, err)
	}
	return run, nil
}
