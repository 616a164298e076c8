package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show project memory statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := mem.GetStatistics(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		displayStatistics(st)
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print a one-line project status for prompt injection",
	Long: `Print a one-line summary of the project (version, recent and unresolved
errors, recurring patterns, last milestone) suitable for prepending to an
assistant's prompt. The summary is also stored in the project memory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		summary, err := mem.ContextSummary(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"summary": summary})
		}
		fmt.Println(summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(contextCmd)
}

func displayStatistics(st *types.Statistics) {
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s Project %s\n\n", cyan("📊"), cyan(st.Version))
	fmt.Printf("  Errors:     %s total, %s resolved, %s unresolved, %s critical\n",
		formatNumber(st.TotalErrors), formatNumber(st.ResolvedErrors),
		formatNumber(st.UnresolvedErrors), formatNumber(st.CriticalErrors))
	fmt.Printf("  Last 24h:   %s errors, %s events\n", formatNumber(st.ErrorsLast24h), formatNumber(st.DailyVelocity))
	fmt.Printf("  Patterns:   %s distinct, %s recurring, %s known from central/seeds\n",
		formatNumber(st.DistinctPatterns), formatNumber(st.RecurringPatterns), formatNumber(st.KnownPatterns))
	fmt.Printf("  Solutions:  %s (avg effectiveness %.1f)", formatNumber(st.TotalSolutions), st.AvgEffectiveness)
	if len(st.SolutionsByApplier) > 0 {
		fmt.Printf(" %s", gray(formatCounts(st.SolutionsByApplier)))
	}
	fmt.Println()
	fmt.Printf("  Decisions:  %s\n", formatNumber(st.TotalDecisions))
	fmt.Printf("  Gates:      %s passed", formatNumber(st.MilestonesCompleted))
	if len(st.GatesByStatus) > 0 {
		fmt.Printf(" %s", gray(formatCounts(st.GatesByStatus)))
	}
	fmt.Println()
	fmt.Printf("\n  Quality ratio: %.2f errors per milestone\n", st.QualityRatio)
	fmt.Printf("  AI effectiveness: %.1f / 5\n\n", st.AIEffectiveness)
}

// formatCounts renders a count map as "(a: 1, b: 2)" in key order
func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "("
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %d", k, m[k])
	}
	return out + ")"
}
