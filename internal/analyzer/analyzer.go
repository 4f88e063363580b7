// Package analyzer orchestrates a full analysis pass: query-log
// acquisition, table extraction, pattern aggregation, dbt coverage
// mapping, and run caching.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/leapstack-labs/querysight/internal/querylog"
	"github.com/leapstack-labs/querysight/internal/state"
	"github.com/leapstack-labs/querysight/pkg/dbt"
	"github.com/leapstack-labs/querysight/pkg/pattern"
	"github.com/leapstack-labs/querysight/pkg/tables"
)

// RecordSource supplies query-log records for a filter. Implemented by
// querylog.Client.
type RecordSource interface {
	RetrieveQueryLogs(ctx context.Context, f querylog.Filter) ([]querylog.Record, error)
}

// Config holds analyzer configuration.
type Config struct {
	// Source supplies query-log records.
	Source RecordSource
	// Store caches analysis runs (optional).
	Store state.Store
	// CacheTTL bounds how old a cached run may be before it is ignored.
	// Zero accepts any age; only meaningful with a Store.
	CacheTTL time.Duration
	// Refresh skips the cache lookup and always re-analyzes. The fresh
	// run is still saved.
	Refresh bool
	// ProjectPath points at a dbt project for coverage mapping
	// (optional).
	ProjectPath string
	// MinFrequency drops patterns seen fewer times from the result.
	MinFrequency int
	// Workers shards aggregation; <= 0 uses one worker per CPU.
	Workers int
	// LookupFunctions overrides the table-extraction allow-list of
	// lookup-style functions. Nil keeps the default.
	LookupFunctions []string
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Result is the outcome of one analysis pass.
type Result struct {
	RunID       string
	Patterns    []*pattern.QueryPattern
	Coverage    *dbt.Coverage
	RecordCount int
	Rejected    int
	FromCache   bool
}

// Analyzer runs analysis passes.
type Analyzer struct {
	cfg       Config
	extractor *tables.Extractor
	mapper    *dbt.Mapper
	logger    *slog.Logger
}

// New creates an analyzer. The dbt project, when configured, is loaded
// eagerly so a broken project fails fast instead of mid-run.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("analyzer: record source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := tables.DefaultOptions()
	if cfg.LookupFunctions != nil {
		opts.LookupFunctions = cfg.LookupFunctions
	}
	opts.Logger = logger

	a := &Analyzer{
		cfg:       cfg,
		extractor: tables.NewExtractor(opts),
		logger:    logger,
	}

	if cfg.ProjectPath != "" {
		mapper := dbt.NewMapper(cfg.ProjectPath, logger)
		if err := mapper.Load(); err != nil {
			return nil, fmt.Errorf("load dbt project: %w", err)
		}
		a.mapper = mapper
	}
	return a, nil
}

// Run executes one analysis pass for the filter. A cached run for the
// same filter fingerprint is reused when fresh enough; otherwise records
// are retrieved, aggregated, mapped, and the run is persisted.
func (a *Analyzer) Run(ctx context.Context, f querylog.Filter) (*Result, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	fingerprint := f.Fingerprint()

	if !a.cfg.Refresh {
		if cached, ok := a.loadCached(ctx, fingerprint); ok {
			return a.finish(cached, true), nil
		}
	}

	records, err := a.cfg.Source.RetrieveQueryLogs(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("retrieve query logs: %w", err)
	}

	patterns, rejected, err := pattern.AnalyzeRecords(ctx,
		a.patternRecords(records), a.cfg.MinFrequency, a.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("aggregate patterns: %w", err)
	}
	a.logger.Info("aggregated query patterns",
		"records", len(records), "patterns", len(patterns), "rejected", rejected)

	run := &state.Run{
		Fingerprint:   fingerprint,
		WindowStart:   f.Start,
		WindowEnd:     f.End,
		RecordCount:   len(records),
		RejectedCount: rejected,
		Patterns:      patterns,
	}

	result := a.finish(run, false)

	if a.cfg.Store != nil {
		// Saved after coverage mapping so mapped-model sets persist.
		if err := a.cfg.Store.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("cache analysis run: %w", err)
		}
		result.RunID = run.ID
	}
	return result, nil
}

// Mapper exposes the loaded dbt project, nil without one.
func (a *Analyzer) Mapper() *dbt.Mapper {
	return a.mapper
}

func (a *Analyzer) loadCached(ctx context.Context, fingerprint string) (*state.Run, bool) {
	if a.cfg.Store == nil {
		return nil, false
	}
	run, err := a.cfg.Store.LatestRun(ctx, fingerprint, a.cfg.CacheTTL)
	if errors.Is(err, state.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		a.logger.Warn("cache lookup failed, re-analyzing", "error", err)
		return nil, false
	}
	a.logger.Info("reusing cached analysis run",
		"run_id", run.ID, "age", run.Age().Round(time.Second))
	return run, true
}

// patternRecords converts query-log rows into aggregation records,
// merging the warehouse-reported table list with SQL-level extraction.
func (a *Analyzer) patternRecords(records []querylog.Record) []pattern.Record {
	out := make([]pattern.Record, 0, len(records))
	for _, rec := range records {
		tbls := make(map[string]struct{})
		for _, name := range rec.Tables {
			for _, variant := range tables.NameVariants(name) {
				tbls[variant] = struct{}{}
			}
		}
		for _, name := range a.extractor.Extract(rec.Query) {
			tbls[name] = struct{}{}
		}

		flat := make([]string, 0, len(tbls))
		for name := range tbls {
			flat = append(flat, name)
		}

		out = append(out, pattern.Record{
			Query:       rec.Query,
			User:        rec.User,
			StartedAt:   rec.StartedAt,
			DurationMS:  rec.DurationMS,
			ReadRows:    rec.ReadRows,
			ReadBytes:   rec.ReadBytes,
			MemoryUsage: rec.MemoryUsage,
			Tables:      flat,
		})
	}
	return out
}

func (a *Analyzer) finish(run *state.Run, fromCache bool) *Result {
	result := &Result{
		RunID:       run.ID,
		Patterns:    run.Patterns,
		RecordCount: run.RecordCount,
		Rejected:    run.RejectedCount,
		FromCache:   fromCache,
	}
	if a.mapper != nil {
		result.Coverage = dbt.ComputeCoverage(a.mapper, run.Patterns)
	}
	return result
}
