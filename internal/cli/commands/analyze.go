package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querysight/internal/analyzer"
)

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Retrieve query logs and aggregate them into patterns",
		Long: `Pull query execution history from ClickHouse's system.query_log,
collapse it into recurring query patterns, and cache the result locally.
With a dbt project configured, patterns are also mapped onto models and
a coverage summary is produced.

Repeated runs over the same window reuse the cached result until it
expires; use --refresh to force re-analysis.`,
		Example: `  # Analyze the last 7 days (default window)
  querysight analyze

  # Slow queries from the last 30 days, ignoring system users
  querysight analyze --days 30 --focus slow --exclude-user default

  # Re-analyze even if a fresh cached run exists
  querysight analyze --refresh`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd)
		},
	}

	cmd.Flags().Int("days", 0, "Window size in days (default from config)")
	cmd.Flags().String("focus", "", "Traffic slice: all, slow, or frequent")
	cmd.Flags().StringSlice("include-user", nil, "Only include these users")
	cmd.Flags().StringSlice("exclude-user", nil, "Exclude these users")
	cmd.Flags().StringSlice("kind", nil, "Only include these query kinds (Select, Insert, ...)")
	cmd.Flags().Float64("sample", 0, "Deterministic sample fraction in (0,1)")
	cmd.Flags().Int("limit", 0, "Cap the number of retrieved rows")
	cmd.Flags().Int("min-frequency", 0, "Drop patterns seen fewer times")
	cmd.Flags().Bool("refresh", false, "Ignore cached runs and re-analyze")

	_ = cmd.RegisterFlagCompletionFunc("focus", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"all", "slow", "frequent"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runAnalyze(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	applyAnalysisFlags(cmd, cmdCtx)

	refresh, _ := cmd.Flags().GetBool("refresh")
	a, closeClient, err := newAnalyzer(cmdCtx, refresh)
	if err != nil {
		return err
	}
	defer closeClient()

	filter := filterFromConfig(cmdCtx.Cfg, time.Now())
	result, err := a.Run(cmd.Context(), filter)
	if err != nil {
		return err
	}

	return renderAnalyzeResult(cmd, cmdCtx, result)
}

// applyAnalysisFlags folds explicitly-set command flags into the
// analysis config for this invocation.
func applyAnalysisFlags(cmd *cobra.Command, cmdCtx *CommandContext) {
	an := &cmdCtx.Cfg.Analysis
	flags := cmd.Flags()

	if flags.Changed("days") {
		an.Days, _ = flags.GetInt("days")
	}
	if flags.Changed("focus") {
		an.Focus, _ = flags.GetString("focus")
	}
	if flags.Changed("include-user") {
		an.IncludeUsers, _ = flags.GetStringSlice("include-user")
	}
	if flags.Changed("exclude-user") {
		an.ExcludeUsers, _ = flags.GetStringSlice("exclude-user")
	}
	if flags.Changed("kind") {
		an.QueryKinds, _ = flags.GetStringSlice("kind")
	}
	if flags.Changed("sample") {
		an.SampleFraction, _ = flags.GetFloat64("sample")
	}
	if flags.Changed("limit") {
		an.Limit, _ = flags.GetInt("limit")
	}
	if flags.Changed("min-frequency") {
		an.MinFrequency, _ = flags.GetInt("min-frequency")
	}
}

func renderAnalyzeResult(cmd *cobra.Command, cmdCtx *CommandContext, result *analyzer.Result) error {
	w := cmd.OutOrStdout()
	format := cmdCtx.Cfg.OutputFormat

	if format == "json" {
		return renderJSON(w, struct {
			RunID     string       `json:"run_id,omitempty"`
			FromCache bool         `json:"from_cache"`
			Records   int          `json:"records"`
			Rejected  int          `json:"rejected"`
			Patterns  []patternRow `json:"patterns"`
			Coverage  any          `json:"coverage,omitempty"`
		}{
			RunID:     result.RunID,
			FromCache: result.FromCache,
			Records:   result.RecordCount,
			Rejected:  result.Rejected,
			Patterns:  patternRows(result.Patterns),
			Coverage:  coverageOrNil(result),
		})
	}

	source := "warehouse"
	if result.FromCache {
		source = "cache"
	}
	_, _ = fmt.Fprintf(w, "Analyzed %d records (%d rejected) from %s: %d patterns\n",
		result.RecordCount, result.Rejected, source, len(result.Patterns))
	if result.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run: %s\n", result.RunID)
	}
	_, _ = fmt.Fprintln(w)

	if err := renderPatterns(w, result.Patterns, format); err != nil {
		return err
	}

	if result.Coverage != nil {
		_, _ = fmt.Fprintln(w)
		return renderCoverage(w, result.Coverage, format)
	}
	return nil
}

func coverageOrNil(result *analyzer.Result) any {
	if result.Coverage == nil {
		return nil
	}
	return result.Coverage
}
