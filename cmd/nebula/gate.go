package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/types"
)

var decisionCmd = &cobra.Command{
	Use:   "decision",
	Short: "Record an architectural or process decision",
	Long: `Record a decision so later sessions know what was chosen and why.

Example:
  nebula decision --category architecture --question "Which queue?" \
    --chosen nats --alt kafka --alt redis --rationale "already in the stack" --by human`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := &types.Decision{}
		d.Category, _ = cmd.Flags().GetString("category")
		d.Question, _ = cmd.Flags().GetString("question")
		d.ChosenOption, _ = cmd.Flags().GetString("chosen")
		d.Alternatives, _ = cmd.Flags().GetStringArray("alt")
		d.Rationale, _ = cmd.Flags().GetString("rationale")
		d.MadeBy, _ = cmd.Flags().GetString("by")
		d.PhaseRef, _ = cmd.Flags().GetString("phase")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		id, err := mem.RecordDecision(ctx, d)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"id": id})
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Decision %s recorded: %s → %s\n", green("✓"), id, d.Question, d.ChosenOption)
		return nil
	},
}

var gateCmd = &cobra.Command{
	Use:   "gate <phase-ref>",
	Short: "Submit quality gate results for a phase",
	Long: `Submit test evidence for a phase and decide its quality gate.

A gate passes only when every automated test passes and, if there were manual
checks, every manual check passes. A pass bumps the minor version once per
phase. When the criteria are not met, choose --status failed or
--status skipped (skipping needs at least one --skip-reason).

Examples:
  nebula gate phase-3 --number 3 --automated 120 --automated-passing 120 --perf
  nebula gate phase-3 --automated 120 --automated-passing 118 --status failed
  nebula gate phase-4 --skipped 2 --skip-reason "GPU runner offline" --status skipped`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := &types.GateDecision{PhaseRef: args[0]}
		d.PhaseNumber, _ = cmd.Flags().GetInt("number")
		status, _ := cmd.Flags().GetString("status")
		d.Status = types.GateStatus(status)

		r := &d.Results
		r.TestsAutomated, _ = cmd.Flags().GetInt("automated")
		r.TestsAutomatedPassing, _ = cmd.Flags().GetInt("automated-passing")
		r.TestsManual, _ = cmd.Flags().GetInt("manual")
		r.TestsManualPassing, _ = cmd.Flags().GetInt("manual-passing")
		r.TestsSkipped, _ = cmd.Flags().GetInt("skipped")
		r.SkipReasons, _ = cmd.Flags().GetStringArray("skip-reason")
		r.DurationMinutes, _ = cmd.Flags().GetInt("duration")
		r.PerformanceAcceptable, _ = cmd.Flags().GetBool("perf")
		r.Notes, _ = cmd.Flags().GetString("notes")
		r.Reviewer, _ = cmd.Flags().GetString("reviewer")
		r.ReviewerType, _ = cmd.Flags().GetString("reviewer-type")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		gate, err := mem.TransitionGate(ctx, d)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(gate)
		}
		displayGate(gate)
		return nil
	},
}

var gatesCmd = &cobra.Command{
	Use:   "gates [phase-ref]",
	Short: "List quality gate records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLocal("gates"); err != nil {
			return err
		}
		phase := ""
		if len(args) > 0 {
			phase = args[0]
		}

		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		gates, err := svc.ListGates(ctx, phase)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(gates)
		}
		if len(gates) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s No gates recorded\n\n", yellow("✨"))
			return nil
		}
		fmt.Println()
		for _, g := range gates {
			displayGate(g)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	decisionCmd.Flags().String("category", "", "Decision category (architecture, tooling, process, ...)")
	decisionCmd.Flags().String("question", "", "What was being decided")
	decisionCmd.Flags().String("chosen", "", "The option chosen")
	decisionCmd.Flags().StringArray("alt", nil, "An alternative considered (repeatable)")
	decisionCmd.Flags().String("rationale", "", "Why the option was chosen")
	decisionCmd.Flags().String("by", "ai", "Who decided")
	decisionCmd.Flags().String("phase", "", "Phase the decision belongs to")

	gateCmd.Flags().Int("number", 0, "Phase number")
	gateCmd.Flags().String("status", "", "Force an outcome: passed, failed or skipped (default: pass if criteria are met)")
	gateCmd.Flags().Int("automated", 0, "Automated tests run")
	gateCmd.Flags().Int("automated-passing", 0, "Automated tests passing")
	gateCmd.Flags().Int("manual", 0, "Manual checks performed")
	gateCmd.Flags().Int("manual-passing", 0, "Manual checks passing")
	gateCmd.Flags().Int("skipped", 0, "Tests skipped")
	gateCmd.Flags().StringArray("skip-reason", nil, "Why tests were skipped (repeatable)")
	gateCmd.Flags().Int("duration", 0, "Review duration in minutes")
	gateCmd.Flags().Bool("perf", false, "Performance is acceptable")
	gateCmd.Flags().String("notes", "", "Free-form notes")
	gateCmd.Flags().String("reviewer", "", "Reviewer name")
	gateCmd.Flags().String("reviewer-type", "", "Reviewer type: ai or human")

	rootCmd.AddCommand(decisionCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(gatesCmd)
}

func displayGate(g *types.QualityGate) {
	var mark string
	switch g.Status {
	case types.GatePassed:
		mark = color.New(color.FgGreen).Sprint("✓ passed")
	case types.GateFailed:
		mark = color.New(color.FgRed).Sprint("✗ failed")
	case types.GateSkipped:
		mark = color.New(color.FgYellow).Sprint("↷ skipped")
	default:
		mark = color.New(color.FgHiBlack).Sprint("… pending")
	}
	fmt.Printf("%s %s (phase %d)", mark, g.PhaseRef, g.PhaseNumber)
	if g.VersionAtDecision != "" {
		fmt.Printf(" at %s", color.New(color.FgCyan).Sprint(g.VersionAtDecision))
	}
	fmt.Println()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("  %s\n", gray(fmt.Sprintf("automated %d/%d | manual %d/%d | skipped %d",
		g.TestsAutomatedPassing, g.TestsAutomated, g.TestsManualPassing, g.TestsManual, g.TestsSkipped)))
}
