package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the local analysis cache",
	}

	cmd.AddCommand(newCacheStatusCommand())
	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCacheEvictCommand())
	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

func newCacheStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cache location, size, and run count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cmdCtx.Store.ListRuns(cmd.Context(), 0)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Cache:  %s\n", cmdCtx.Cfg.Cache.Path)
			if info, err := os.Stat(cmdCtx.Cfg.Cache.Path); err == nil {
				_, _ = fmt.Fprintf(w, "Size:   %s\n", humanize.Bytes(uint64(info.Size())))
			}
			_, _ = fmt.Fprintf(w, "TTL:    %dh\n", cmdCtx.Cfg.Cache.TTLHours)
			_, _ = fmt.Fprintf(w, "Runs:   %d\n", len(runs))
			if len(runs) > 0 {
				_, _ = fmt.Fprintf(w, "Newest: %s\n", humanize.Time(runs[0].CreatedAt))
			}
			return nil
		},
	}
}

func newCacheListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached analysis runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := cmdCtx.Store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderRuns(cmd.OutOrStdout(), runs, cmdCtx.Cfg.OutputFormat)
		},
	}
	cmd.Flags().Int("limit", 0, "Show at most this many runs")
	return cmd
}

func newCacheEvictCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Remove cached runs older than the TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			hours, _ := cmd.Flags().GetInt("older-than")
			if hours == 0 {
				hours = cmdCtx.Cfg.Cache.TTLHours
			}

			n, err := cmdCtx.Store.Evict(cmd.Context(), time.Duration(hours)*time.Hour)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d runs older than %dh\n", n, hours)
			return nil
		},
	}
	cmd.Flags().Int("older-than", 0, "Age threshold in hours (default: cache TTL)")
	return cmd
}

func newCacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cmdCtx.Store.Clear(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}
}
