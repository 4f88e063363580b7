package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/querysight/internal/cli/config"
)

// NewWizardCommand creates the wizard command.
func NewWizardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Interactively build an analysis configuration",
		Long: `Walk through the retrieval settings step by step: window size,
traffic focus, sampling, user filters, and frequency threshold. The
result can be saved to querysight.yaml and is printed as an equivalent
'querysight analyze' invocation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWizard(cmd)
		},
	}
	cmd.Flags().String("save", "", "Write the resulting config to this file without asking")
	return cmd
}

// lineReader is the part of readline the wizard consumes. Tests supply
// scripted answers.
type lineReader interface {
	Readline() (string, error)
}

func runWizard(cmd *cobra.Command) error {
	cfg := getConfig()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "done",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize prompt: %w", err)
	}
	defer func() { _ = rl.Close() }()

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(w, "QuerySight analysis wizard")
	_, _ = fmt.Fprintln(w, "Press enter to keep the value in brackets.")
	_, _ = fmt.Fprintln(w)

	answers, err := collectAnswers(w, rl, &cfg.Analysis)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Equivalent invocation:\n  %s\n", answers.commandLine())

	savePath, _ := cmd.Flags().GetString("save")
	if savePath == "" {
		ok, err := promptBool(w, rl, "Save to querysight.yaml?", false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		savePath = "querysight.yaml"
	}

	if err := answers.save(savePath); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Wrote %s\n", savePath)
	return nil
}

// wizardAnswers is the analysis configuration the wizard produces.
type wizardAnswers struct {
	Days           int
	Focus          string
	SampleFraction float64
	IncludeUsers   []string
	ExcludeUsers   []string
	QueryKinds     []string
	MinFrequency   int
}

func collectAnswers(w io.Writer, rl lineReader, defaults *config.AnalysisConfig) (*wizardAnswers, error) {
	a := &wizardAnswers{}
	var err error

	if a.Days, err = promptInt(w, rl, "Window size in days", defaults.Days, 1); err != nil {
		return nil, err
	}
	if a.Focus, err = promptChoice(w, rl, "Focus (all/slow/frequent)", defaults.Focus,
		[]string{"all", "slow", "frequent"}); err != nil {
		return nil, err
	}
	if a.SampleFraction, err = promptFraction(w, rl, "Sample fraction (0 = everything)",
		defaults.SampleFraction); err != nil {
		return nil, err
	}
	if a.IncludeUsers, err = promptList(w, rl, "Only include users (comma-separated, empty = all)",
		defaults.IncludeUsers); err != nil {
		return nil, err
	}
	if a.ExcludeUsers, err = promptList(w, rl, "Exclude users (comma-separated)",
		defaults.ExcludeUsers); err != nil {
		return nil, err
	}
	if a.QueryKinds, err = promptList(w, rl, "Query kinds (e.g. Select,Insert; empty = all)",
		defaults.QueryKinds); err != nil {
		return nil, err
	}
	if a.MinFrequency, err = promptInt(w, rl, "Minimum pattern frequency", defaults.MinFrequency, 1); err != nil {
		return nil, err
	}
	return a, nil
}

// commandLine renders the answers as an analyze invocation.
func (a *wizardAnswers) commandLine() string {
	var b strings.Builder
	b.WriteString("querysight analyze")
	fmt.Fprintf(&b, " --days %d", a.Days)
	if a.Focus != "all" {
		fmt.Fprintf(&b, " --focus %s", a.Focus)
	}
	if a.SampleFraction > 0 {
		fmt.Fprintf(&b, " --sample %g", a.SampleFraction)
	}
	for _, u := range a.IncludeUsers {
		fmt.Fprintf(&b, " --include-user %s", u)
	}
	for _, u := range a.ExcludeUsers {
		fmt.Fprintf(&b, " --exclude-user %s", u)
	}
	for _, k := range a.QueryKinds {
		fmt.Fprintf(&b, " --kind %s", k)
	}
	if a.MinFrequency > 0 {
		fmt.Fprintf(&b, " --min-frequency %d", a.MinFrequency)
	}
	return b.String()
}

// save writes the answers as the analysis section of a config file.
func (a *wizardAnswers) save(path string) error {
	analysis := map[string]any{
		"days":          a.Days,
		"focus":         a.Focus,
		"min_frequency": a.MinFrequency,
	}
	if a.SampleFraction > 0 {
		analysis["sample_fraction"] = a.SampleFraction
	}
	if len(a.IncludeUsers) > 0 {
		analysis["include_users"] = a.IncludeUsers
	}
	if len(a.ExcludeUsers) > 0 {
		analysis["exclude_users"] = a.ExcludeUsers
	}
	if len(a.QueryKinds) > 0 {
		analysis["query_kinds"] = a.QueryKinds
	}

	data, err := yaml.Marshal(map[string]any{"analysis": analysis})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Prompt helpers. Each re-asks until the answer parses; empty input
// keeps the default.

func prompt(w io.Writer, rl lineReader, label string, def string) (string, error) {
	_, _ = fmt.Fprintf(w, "%s [%s]: ", label, def)
	line, err := rl.Readline()
	if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
		return "", fmt.Errorf("wizard aborted")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptInt(w io.Writer, rl lineReader, label string, def, floor int) (int, error) {
	for {
		answer, err := prompt(w, rl, label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return def, nil
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < floor {
			_, _ = fmt.Fprintf(w, "  need a whole number >= %d\n", floor)
			continue
		}
		return n, nil
	}
}

func promptFraction(w io.Writer, rl lineReader, label string, def float64) (float64, error) {
	for {
		answer, err := prompt(w, rl, label, strconv.FormatFloat(def, 'g', -1, 64))
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(answer, 64)
		if err != nil || f < 0 || f > 1 {
			_, _ = fmt.Fprintln(w, "  need a number between 0 and 1")
			continue
		}
		return f, nil
	}
}

func promptChoice(w io.Writer, rl lineReader, label, def string, options []string) (string, error) {
	for {
		answer, err := prompt(w, rl, label, def)
		if err != nil {
			return "", err
		}
		if answer == "" {
			return def, nil
		}
		answer = strings.ToLower(answer)
		for _, opt := range options {
			if answer == opt {
				return opt, nil
			}
		}
		_, _ = fmt.Fprintf(w, "  expected one of: %s\n", strings.Join(options, ", "))
	}
}

func promptList(w io.Writer, rl lineReader, label string, def []string) ([]string, error) {
	answer, err := prompt(w, rl, label, strings.Join(def, ","))
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return def, nil
	}
	var out []string
	for _, part := range strings.Split(answer, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

func promptBool(w io.Writer, rl lineReader, label string, def bool) (bool, error) {
	defLabel := "y/N"
	if def {
		defLabel = "Y/n"
	}
	for {
		answer, err := prompt(w, rl, label, defLabel)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		_, _ = fmt.Fprintln(w, "  expected y or n")
	}
}
