package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querysight/internal/cli/config"
	"github.com/leapstack-labs/querysight/pkg/dbt"
)

// ModelsOptions holds options for the models command.
type ModelsOptions struct {
	Upstream   bool
	Downstream bool
	Depth      int
}

// NewModelsCommand creates the models command.
func NewModelsCommand() *cobra.Command {
	opts := &ModelsOptions{}

	cmd := &cobra.Command{
		Use:   "models [model]",
		Short: "List dbt models and their dependency structure",
		Long: `List the models of the configured dbt project with their relation
names, materializations, and dependency counts. With a model name,
show that model's detail including its upstream and downstream lineage.`,
		Example: `  # List all models
  querysight models --project-dir ./dbt

  # Inspect one model with lineage
  querysight models fct_orders

  # Only direct neighbors
  querysight models fct_orders --depth 1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runModelDetail(cmd, args[0], opts)
			}
			return runModelsList(cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", true, "Include upstream dependencies")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include downstream dependents")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "Max traversal depth (0 = unlimited)")

	return cmd
}

func loadMapper(cmd *cobra.Command) (*dbt.Mapper, error) {
	cfg := getConfig()
	if cfg.Dbt.ProjectDir == "" {
		return nil, fmt.Errorf("no dbt project configured; set dbt.project_dir or pass --project-dir")
	}
	mapper := dbt.NewMapper(cfg.Dbt.ProjectDir, config.GetLogger(cmd.Context()))
	if err := mapper.Load(); err != nil {
		return nil, fmt.Errorf("load dbt project: %w", err)
	}
	return mapper, nil
}

func runModelsList(cmd *cobra.Command) error {
	mapper, err := loadMapper(cmd)
	if err != nil {
		return err
	}

	graph := mapper.Models()
	w := cmd.OutOrStdout()
	cfg := getConfig()

	if cfg.OutputFormat == "json" {
		type modelRow struct {
			Name            string `json:"name"`
			Relation        string `json:"relation"`
			Materialization string `json:"materialization"`
			Depth           int    `json:"depth"`
			Dependencies    int    `json:"dependencies"`
			Dependents      int    `json:"dependents"`
		}
		rows := make([]modelRow, 0, len(graph))
		for _, name := range graph.Names() {
			m := graph[name]
			rows = append(rows, modelRow{
				Name:            m.Name,
				Relation:        m.RelationName(),
				Materialization: m.Materialization,
				Depth:           graph.DependencyDepth(name),
				Dependencies:    len(m.DependsOn),
				Dependents:      len(m.ReferencedBy),
			})
		}
		return renderJSON(w, rows)
	}

	if len(graph) == 0 {
		_, _ = fmt.Fprintln(w, "(0 models)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Model", "Relation", "Materialization", "Depth", "Deps", "Refs"})
	for _, name := range graph.Names() {
		m := graph[name]
		t.AppendRow(table.Row{
			m.Name, m.RelationName(), m.Materialization,
			graph.DependencyDepth(name), len(m.DependsOn), len(m.ReferencedBy),
		})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d models)\n", len(graph))
	return nil
}

func runModelDetail(cmd *cobra.Command, name string, opts *ModelsOptions) error {
	mapper, err := loadMapper(cmd)
	if err != nil {
		return err
	}

	graph := mapper.Models()
	m, ok := graph[name]
	if !ok {
		return fmt.Errorf("model %q not found in project", name)
	}

	w := cmd.OutOrStdout()
	cfg := getConfig()

	ancestors := graph.Ancestors(name, opts.Depth)
	descendants := graph.Descendants(name, opts.Depth)

	if cfg.OutputFormat == "json" {
		return renderJSON(w, struct {
			Name            string   `json:"name"`
			Path            string   `json:"path"`
			Relation        string   `json:"relation"`
			Materialization string   `json:"materialization"`
			Depth           int      `json:"depth"`
			Tests           []string `json:"tests,omitempty"`
			Ancestors       []string `json:"ancestors,omitempty"`
			Descendants     []string `json:"descendants,omitempty"`
		}{
			Name:            m.Name,
			Path:            m.Path,
			Relation:        m.RelationName(),
			Materialization: m.Materialization,
			Depth:           graph.DependencyDepth(name),
			Tests:           m.Tests,
			Ancestors:       ancestors,
			Descendants:     descendants,
		})
	}

	_, _ = fmt.Fprintf(w, "Model: %s\n", m.Name)
	_, _ = fmt.Fprintf(w, "  Relation:        %s\n", m.RelationName())
	_, _ = fmt.Fprintf(w, "  Materialization: %s\n", m.Materialization)
	_, _ = fmt.Fprintf(w, "  Depth:           %d\n", graph.DependencyDepth(name))
	if m.Path != "" {
		_, _ = fmt.Fprintf(w, "  File:            %s\n", m.Path)
	}
	if len(m.Tests) > 0 {
		_, _ = fmt.Fprintf(w, "  Tests:           %s\n", strings.Join(m.Tests, ", "))
	}

	if opts.Upstream && len(ancestors) > 0 {
		_, _ = fmt.Fprintf(w, "\nUpstream (%d):\n", len(ancestors))
		for _, a := range ancestors {
			_, _ = fmt.Fprintf(w, "  <- %s\n", a)
		}
	}
	if opts.Downstream && len(descendants) > 0 {
		_, _ = fmt.Fprintf(w, "\nDownstream (%d):\n", len(descendants))
		for _, d := range descendants {
			_, _ = fmt.Fprintf(w, "  -> %s\n", d)
		}
	}

	return nil
}
