package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querysight/pkg/pattern"
)

// NewPatternsCommand creates the patterns command.
func NewPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show query patterns from a cached analysis run",
		Long: `Display the aggregated query patterns of a cached analysis run,
optionally filtered. Reads only the local cache; run 'querysight analyze'
first to populate it.`,
		Example: `  # Patterns from the most recent run
  querysight patterns

  # Patterns hitting a table, slowest first
  querysight patterns --table events --sort duration

  # Heavy hitters for one user as JSON
  querysight patterns --user etl --min-frequency 10 -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPatterns(cmd)
		},
	}

	cmd.Flags().String("run", "", "Run ID (default: most recent run)")
	cmd.Flags().Int("min-frequency", 0, "Only patterns seen at least this often")
	cmd.Flags().Float64("min-duration", 0, "Only patterns at or above this average duration (ms)")
	cmd.Flags().StringSlice("user", nil, "Only patterns run by one of these users")
	cmd.Flags().String("table", "", "Only patterns touching tables containing this substring")
	cmd.Flags().StringSlice("fingerprint", nil, "Only patterns with these fingerprints")
	cmd.Flags().String("sort", "frequency", "Sort order: frequency, duration, rows, bytes")
	cmd.Flags().Int("limit", 0, "Show at most this many patterns")

	_ = cmd.RegisterFlagCompletionFunc("sort", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"frequency", "duration", "rows", "bytes"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runPatterns(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runID, _ := cmd.Flags().GetString("run")
	run, err := latestRun(cmd, cmdCtx.Store, runID)
	if err != nil {
		return err
	}

	minFreq, _ := cmd.Flags().GetInt("min-frequency")
	minDur, _ := cmd.Flags().GetFloat64("min-duration")
	users, _ := cmd.Flags().GetStringSlice("user")
	tbl, _ := cmd.Flags().GetString("table")
	fps, _ := cmd.Flags().GetStringSlice("fingerprint")

	patterns := pattern.Filter(run.Patterns, pattern.Criteria{
		Fingerprints:     fps,
		MinFrequency:     minFreq,
		MinAvgDurationMS: minDur,
		Users:            users,
		Table:            tbl,
	})

	sortKey, _ := cmd.Flags().GetString("sort")
	sortPatterns(patterns, sortKey)

	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}

	return renderPatterns(cmd.OutOrStdout(), patterns, cmdCtx.Cfg.OutputFormat)
}

// sortPatterns reorders in place. Ties keep the aggregation order,
// which is already deterministic.
func sortPatterns(patterns []*pattern.QueryPattern, key string) {
	switch key {
	case "duration":
		sort.SliceStable(patterns, func(i, j int) bool {
			return patterns[i].AvgDurationMS > patterns[j].AvgDurationMS
		})
	case "rows":
		sort.SliceStable(patterns, func(i, j int) bool {
			return patterns[i].AvgReadRows > patterns[j].AvgReadRows
		})
	case "bytes":
		sort.SliceStable(patterns, func(i, j int) bool {
			return patterns[i].AvgReadBytes > patterns[j].AvgReadBytes
		})
	default:
		// Aggregation already sorts by frequency.
	}
}
