package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"metabench/internal/benchmark"
	"metabench/internal/config"
)

func newReportCmd(a *app) *cobra.Command {
	var plain bool
	var width int

	cmd := &cobra.Command{
		Use:   "report [snapshot]",
		Short: "Render a snapshot as a table",
		Long: `Reads a snapshot written by 'metabench run' (default: the configured
output path) and renders the per-case statistics as a markdown table.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString(config.KeyOutput)
			if len(args) == 1 {
				path = args[0]
			}

			snap, err := benchmark.ReadSnapshot(path)
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}

			md := renderReportMarkdown(path, snap)
			if plain {
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}

			renderer, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(width),
			)
			if err != nil {
				return err
			}
			out, err := renderer.Render(md)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print raw markdown instead of rendering it")
	cmd.Flags().IntVar(&width, "width", 120, "Word wrap width for rendered output")
	return cmd
}

func renderReportMarkdown(path string, snap *benchmark.Snapshot) string {
	ids := make([]string, 0, len(snap.Cases))
	stable := 0
	for id, c := range snap.Cases {
		ids = append(ids, id)
		if c.Stable {
			stable++
		}
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "# Meta-benchmark report\n\n")
	fmt.Fprintf(&b, "Snapshot `%s`: **%d/%d stable** (threshold %.2f%%, %d to %d runs per case)\n\n",
		path, stable, len(ids),
		snap.Params.RelCIThreshold*100, snap.Params.MinMetaReps, snap.Params.MaxMetaReps)

	if len(ids) == 0 {
		b.WriteString("No cases recorded.\n")
		return b.String()
	}

	b.WriteString("| Case | Runs | Mean | Std dev | ±95% CI | Stable |\n")
	b.WriteString("|------|-----:|-----:|--------:|--------:|:------:|\n")
	for _, id := range ids {
		c := snap.Cases[id]
		mark := "no"
		if c.Stable {
			mark = "yes"
		}
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s |\n",
			escapeCell(id), c.Count, formatNs(c.MeanNs), formatNs(c.StdDevNs), formatRelCI(float64(c.RelCI95Half)), mark)
	}
	return b.String()
}

// formatNs scales a nanosecond value to a readable unit.
func formatNs(ns float64) string {
	switch abs := math.Abs(ns); {
	case abs >= 1e9:
		return fmt.Sprintf("%.3f s", ns/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2f ms", ns/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.2f µs", ns/1e3)
	default:
		return fmt.Sprintf("%.2f ns", ns)
	}
}

func formatRelCI(rel float64) string {
	if math.IsInf(rel, 0) || math.IsNaN(rel) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", rel*100)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
