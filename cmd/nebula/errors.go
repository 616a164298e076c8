package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/types"
)

var errorCmd = &cobra.Command{
	Use:   "error <message>",
	Short: "Record an error and show what memory knows about it",
	Long: `Record an error event. The message is fingerprinted so recurring errors
are recognized even when paths, numbers or addresses differ.

If the error has been seen before, the solutions that worked are printed.
Otherwise similar past errors and central hints are shown.

Examples:
  nebula error "TypeError: cannot read property 'id' of undefined" --file src/app.ts --line 42
  go test ./... 2>&1 | tail -1 | xargs -0 nebula error --phase phase-2
  nebula error "OOMKilled" --level CRITICAL --stack-file crash.log`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		file, _ := cmd.Flags().GetString("file")
		line, _ := cmd.Flags().GetInt("line")
		code, _ := cmd.Flags().GetString("code")
		phase, _ := cmd.Flags().GetString("phase")
		stackFile, _ := cmd.Flags().GetString("stack-file")

		ev := &types.ErrorEvent{
			Level:      types.Level(strings.ToUpper(level)),
			PhaseRef:   phase,
			FilePath:   file,
			LineNumber: line,
			ErrorCode:  code,
			Message:    args[0],
		}
		if stackFile != "" {
			data, err := os.ReadFile(stackFile)
			if err != nil {
				return fmt.Errorf("failed to read stack trace: %w", err)
			}
			ev.StackTrace = string(data)
		}

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := mem.RecordError(ctx, ev)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		displayRecordResult(res)
		return nil
	},
}

var solutionCmd = &cobra.Command{
	Use:   "solution <error-id> <description>",
	Short: "Record how an error was fixed",
	Long: `Link a solution to a recorded error. Solutions rated 4 or 5 become the
recommended fix for the error's pattern and bump the patch version.

Examples:
  nebula solution 12 "initialize the cache before starting the server" -e 5
  nebula solution 12 "retry with backoff" --by human --ref abc123 -e 3`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		errorID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || errorID <= 0 {
			return types.Invalid("error_id", "must be a positive integer (got %q)", args[0])
		}
		effectiveness, _ := cmd.Flags().GetInt("effectiveness")
		by, _ := cmd.Flags().GetString("by")
		ref, _ := cmd.Flags().GetString("ref")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		sol, err := mem.RecordSolution(ctx, &types.Solution{
			ErrorID:       errorID,
			Description:   args[1],
			CodeChangeRef: ref,
			AppliedBy:     types.AppliedBy(by),
			Effectiveness: effectiveness,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sol)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Solution %s recorded for error #%d\n", green("✓"), sol.ID, sol.ErrorID)
		fmt.Printf("  Effectiveness: %s\n", stars(sol.Effectiveness))
		if sol.Effectiveness >= types.RecommendThreshold {
			fmt.Printf("  Promoted to recommended fix for this pattern\n")
		}
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <text>",
	Short: "Find past errors resembling text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		matches, err := mem.FindSimilar(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(matches)
		}
		if len(matches) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s No similar errors found\n\n", yellow("✨"))
			return nil
		}
		fmt.Println()
		displayMatches(matches)
		fmt.Println()
		return nil
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List recurring error patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		minOcc, _ := cmd.Flags().GetInt("min")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		patterns, err := mem.GetPatterns(ctx, minOcc)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(patterns)
		}
		if len(patterns) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s No patterns seen %d+ times\n\n", yellow("✨"), minOcc)
			return nil
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s Error patterns (%d):\n\n", cyan("📋"), len(patterns))
		for _, p := range patterns {
			fmt.Printf("  %s %s\n", color.New(color.FgYellow).Sprintf("%3dx", p.OccurrenceCount),
				truncateString(p.CanonicalSignature, 70))
			meta := fmt.Sprintf("%s | last seen %s", shortHash(p.FingerprintHash), p.LastSeen.Format("2006-01-02 15:04"))
			if p.RecommendedSolutionRef != "" {
				meta += " | fix " + p.RecommendedSolutionRef
			}
			fmt.Printf("       %s\n", gray(meta))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	errorCmd.Flags().StringP("level", "l", string(types.LevelError), "Severity: ERROR or CRITICAL")
	errorCmd.Flags().StringP("file", "f", "", "File the error points at")
	errorCmd.Flags().Int("line", 0, "Line number in --file")
	errorCmd.Flags().String("code", "", "Tool-specific error code (e.g. TS2339)")
	errorCmd.Flags().String("phase", "", "Phase the error happened in")
	errorCmd.Flags().String("stack-file", "", "Read the stack trace from this file")

	solutionCmd.Flags().IntP("effectiveness", "e", 3, "How well it worked, 1-5")
	solutionCmd.Flags().String("by", string(types.AppliedByAI), "Who applied it: ai or human")
	solutionCmd.Flags().String("ref", "", "Commit or change reference")

	similarCmd.Flags().IntP("limit", "n", 5, "Maximum matches to show")

	patternsCmd.Flags().Int("min", 2, "Minimum occurrences")

	rootCmd.AddCommand(errorCmd)
	rootCmd.AddCommand(solutionCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(patternsCmd)
}

func displayRecordResult(res *types.RecordErrorResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if res.Pattern.IsSentinel() {
		fmt.Printf("%s Error #%d recorded with no usable message (not fingerprinted)\n", yellow("!"), res.LocalID)
		return
	}

	if res.IsRecurring {
		fmt.Printf("%s Error #%d is recurring: seen %s times\n", yellow("↻"), res.LocalID, cyan(res.Pattern.OccurrenceCount))
	} else {
		fmt.Printf("%s Error #%d recorded (new pattern)\n", green("✓"), res.LocalID)
	}
	fmt.Printf("  %s\n", gray(shortHash(res.Pattern.FingerprintHash)+" "+truncateString(res.Pattern.CanonicalSignature, 70)))

	if len(res.Solutions) > 0 {
		fmt.Printf("\n  Solutions that worked before:\n")
		for _, s := range res.Solutions {
			fmt.Printf("    %s %s %s\n", stars(s.Effectiveness), s.Description, gray("("+string(s.AppliedBy)+")"))
		}
	}
	if len(res.Similar) > 0 {
		fmt.Printf("\n  Similar errors:\n")
		displayMatches(res.Similar)
	}
	if h := res.RemoteHint; h != nil {
		fmt.Printf("\n  %s seen %d times across %d projects", cyan("Central hint:"), h.GlobalOccurrenceCount, h.ProjectCount)
		if h.SuggestedSolution != "" {
			fmt.Printf(": %s", h.SuggestedSolution)
		}
		fmt.Println()
	}
}

func displayMatches(matches []types.SimilarMatch) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	for _, m := range matches {
		score := fmt.Sprintf("%3.0f%%", m.Score*100)
		if m.Exact {
			score = "same"
		}
		fmt.Printf("    %s #%d %s\n", color.New(color.FgCyan).Sprint(score), m.Event.ID, truncateString(m.Event.Message, 60))
		if m.Event.FilePath != "" {
			fmt.Printf("         %s\n", gray(fmt.Sprintf("%s:%d", m.Event.FilePath, m.Event.LineNumber)))
		}
	}
}

func stars(n int) string {
	if n < 0 {
		n = 0
	}
	if n > 5 {
		n = 5
	}
	return color.New(color.FgYellow).Sprint(strings.Repeat("★", n)) + strings.Repeat("☆", 5-n)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
