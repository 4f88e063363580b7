package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/querysight/internal/state"
	"github.com/leapstack-labs/querysight/pkg/dbt"
	"github.com/leapstack-labs/querysight/pkg/pattern"
)

// maxExampleLen bounds example queries in table cells.
const maxExampleLen = 60

// patternRow is the serializable view of a pattern.
type patternRow struct {
	Fingerprint   string   `json:"fingerprint"`
	Frequency     int      `json:"frequency"`
	AvgDurationMS float64  `json:"avg_duration_ms"`
	AvgReadRows   float64  `json:"avg_read_rows"`
	AvgReadBytes  float64  `json:"avg_read_bytes"`
	Complexity    float64  `json:"complexity"`
	Users         []string `json:"users"`
	Tables        []string `json:"tables"`
	Models        []string `json:"models,omitempty"`
	Example       string   `json:"example"`
}

func patternRows(patterns []*pattern.QueryPattern) []patternRow {
	rows := make([]patternRow, 0, len(patterns))
	for _, p := range patterns {
		rows = append(rows, patternRow{
			Fingerprint:   p.Fingerprint,
			Frequency:     p.Frequency,
			AvgDurationMS: p.AvgDurationMS,
			AvgReadRows:   p.AvgReadRows,
			AvgReadBytes:  p.AvgReadBytes,
			Complexity:    p.ComplexityScore(),
			Users:         p.SortedUsers(),
			Tables:        p.SortedTables(),
			Models:        p.SortedModels(),
			Example:       p.ExampleQuery,
		})
	}
	return rows
}

func renderPatterns(w io.Writer, patterns []*pattern.QueryPattern, format string) error {
	rows := patternRows(patterns)

	switch format {
	case "json":
		return renderJSON(w, rows)
	case "csv":
		return renderPatternsCSV(w, rows)
	case "md", "markdown":
		return renderPatternsMarkdown(w, rows)
	default:
		return renderPatternsTable(w, rows)
	}
}

func renderPatternsTable(w io.Writer, rows []patternRow) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 patterns)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Fingerprint", "Freq", "Avg ms", "Avg rows", "Avg bytes", "Users", "Tables", "Example"})

	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Fingerprint,
			r.Frequency,
			fmt.Sprintf("%.1f", r.AvgDurationMS),
			humanize.Comma(int64(r.AvgReadRows)),
			humanize.Bytes(uint64(r.AvgReadBytes)),
			strings.Join(r.Users, ","),
			strings.Join(r.Tables, ","),
			truncate(flatten(r.Example), maxExampleLen),
		})
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d patterns)\n", len(rows))
	return nil
}

func renderPatternsCSV(w io.Writer, rows []patternRow) error {
	_, _ = fmt.Fprintln(w, "fingerprint,frequency,avg_duration_ms,avg_read_rows,avg_read_bytes,users,tables")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s,%d,%.1f,%.0f,%.0f,%s,%s\n",
			r.Fingerprint, r.Frequency, r.AvgDurationMS, r.AvgReadRows, r.AvgReadBytes,
			escapeCSV(strings.Join(r.Users, ";")), escapeCSV(strings.Join(r.Tables, ";")))
	}
	return nil
}

func renderPatternsMarkdown(w io.Writer, rows []patternRow) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 patterns)")
		return nil
	}
	_, _ = fmt.Fprintln(w, "| Fingerprint | Freq | Avg ms | Users | Tables |")
	_, _ = fmt.Fprintln(w, "| --- | --- | --- | --- | --- |")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "| %s | %d | %.1f | %s | %s |\n",
			r.Fingerprint, r.Frequency, r.AvgDurationMS,
			strings.Join(r.Users, ","), strings.Join(r.Tables, ","))
	}
	return nil
}

// runRow is the serializable view of a cached run header.
type runRow struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	CreatedAt   time.Time `json:"created_at"`
	Records     int       `json:"records"`
	Rejected    int       `json:"rejected"`
}

func renderRuns(w io.Writer, runs []*state.Run, format string) error {
	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, runRow{
			ID:          r.ID,
			Fingerprint: r.Fingerprint,
			WindowStart: r.WindowStart,
			WindowEnd:   r.WindowEnd,
			CreatedAt:   r.CreatedAt,
			Records:     r.RecordCount,
			Rejected:    r.RejectedCount,
		})
	}

	if format == "json" {
		return renderJSON(w, rows)
	}

	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 runs)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Window", "Created", "Records", "Rejected"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.ID,
			fmt.Sprintf("%s .. %s", r.WindowStart.Format("2006-01-02 15:04"), r.WindowEnd.Format("2006-01-02 15:04")),
			humanize.Time(r.CreatedAt),
			r.Records,
			r.Rejected,
		})
	}
	t.Render()
	return nil
}

func renderCoverage(w io.Writer, cov *dbt.Coverage, format string) error {
	if format == "json" {
		return renderJSON(w, cov)
	}

	_, _ = fmt.Fprintf(w, "Models: %d total, %d used (%.1f%% coverage)\n",
		cov.TotalModels, len(cov.UsedModels), cov.CoveredPct)
	_, _ = fmt.Fprintf(w, "Dependency depth: max %d, avg %.1f\n", cov.MaxDepth, cov.AvgDepth)

	if len(cov.UnusedModels) > 0 {
		_, _ = fmt.Fprintf(w, "\nUnused models (%d):\n", len(cov.UnusedModels))
		for _, m := range cov.UnusedModels {
			_, _ = fmt.Fprintf(w, "  %s\n", m)
		}
	}

	if len(cov.UncoveredTables) > 0 {
		_, _ = fmt.Fprintf(w, "\nQueried tables with no model (%d):\n", len(cov.UncoveredTables))
		for _, tbl := range cov.UncoveredTables {
			_, _ = fmt.Fprintf(w, "  %s\n", tbl)
		}
	}

	if len(cov.CriticalModels) > 0 {
		_, _ = fmt.Fprintln(w, "\nCritical models:")
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Model", "Impact", "Descendants", "Depth"})
		for _, m := range cov.CriticalModels {
			t.AppendRow(table.Row{m.Name, m.ImpactScore, m.Descendants, m.Depth})
		}
		t.Render()
	}

	if len(cov.Bottlenecks) > 0 {
		_, _ = fmt.Fprintln(w, "\nBottleneck models:")
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Model", "Upstream", "Downstream", "Used"})
		for _, m := range cov.Bottlenecks {
			t.AppendRow(table.Row{m.Name, m.Upstream, m.Downstream, m.Used})
		}
		t.Render()
	}

	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// flatten collapses a query to a single line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
