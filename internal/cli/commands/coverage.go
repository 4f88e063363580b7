package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querysight/pkg/dbt"
)

// NewCoverageCommand creates the coverage command.
func NewCoverageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Show dbt model coverage for a cached analysis run",
		Long: `Map the query patterns of a cached run onto the configured dbt
project and report which models real traffic exercises: coverage
percentage, unused models, queried tables no model backs, plus the
highest-impact and bottleneck models.`,
		Example: `  # Coverage from the most recent run
  querysight coverage --project-dir ./dbt

  # Coverage for a specific run as JSON
  querysight coverage --run 4f2a... -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCoverage(cmd)
		},
	}

	cmd.Flags().String("run", "", "Run ID (default: most recent run)")

	return cmd
}

func runCoverage(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if cmdCtx.Cfg.Dbt.ProjectDir == "" {
		return fmt.Errorf("no dbt project configured; set dbt.project_dir or pass --project-dir")
	}

	mapper := dbt.NewMapper(cmdCtx.Cfg.Dbt.ProjectDir, cmdCtx.Logger)
	if err := mapper.Load(); err != nil {
		return fmt.Errorf("load dbt project: %w", err)
	}

	runID, _ := cmd.Flags().GetString("run")
	run, err := latestRun(cmd, cmdCtx.Store, runID)
	if err != nil {
		return err
	}

	cov := dbt.ComputeCoverage(mapper, run.Patterns)
	return renderCoverage(cmd.OutOrStdout(), cov, cmdCtx.Cfg.OutputFormat)
}
