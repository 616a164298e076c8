package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show or change the project version",
	Long: `Show the project's semantic version.

Patch is bumped by effective solutions, minor by quality gate passes, major
only by hand. Use 'nebula --version' for the version of this binary.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetInt("history")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := mem.GetVersion(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		displayVersion(st, history)
		return nil
	},
}

var versionBumpCmd = &cobra.Command{
	Use:   "bump <major|minor|patch> [reason]",
	Short: "Bump one version component",
	Long: `Bump a version component by hand. Major bumps require a reason.

Examples:
  nebula version bump patch "dependency refresh"
  nebula version bump major "public API frozen" --reset`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		component := version.Component(args[0])
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		phase, _ := cmd.Flags().GetString("phase")
		reset, _ := cmd.Flags().GetBool("reset")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := mem.BumpVersion(ctx, component, reason, version.BumpOptions{Reset: reset, PhaseRef: phase})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Version is now %s\n", green("✓"), color.New(color.FgCyan).Sprint(version.FromState(*st)))
		return nil
	},
}

var versionSetCmd = &cobra.Command{
	Use:   "set <X.Y.Z> <reason>",
	Short: "Set the version explicitly",
	Long: `Set the version explicitly. Moving backwards is refused unless --force is
given; forced regressions are kept in the history.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := version.Parse(args[0])
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		ctx := context.Background()
		mem, closeFn, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		st, err := mem.SetVersion(ctx, target, args[1], force)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Version set to %s\n", green("✓"), color.New(color.FgCyan).Sprint(version.FromState(*st)))
		return nil
	},
}

func init() {
	versionCmd.Flags().IntP("history", "n", 10, "History entries to show (0 for none)")
	versionBumpCmd.Flags().String("phase", "", "Tie a minor bump to a phase so it happens once")
	versionBumpCmd.Flags().Bool("reset", false, "Zero minor and patch on a major bump")
	versionSetCmd.Flags().Bool("force", false, "Allow moving the version backwards")

	versionCmd.AddCommand(versionBumpCmd)
	versionCmd.AddCommand(versionSetCmd)
	rootCmd.AddCommand(versionCmd)
}

func displayVersion(st *types.VersionState, history int) {
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\nVersion %s\n", cyan(version.FromState(*st)))
	if st.LastBumpReason != "" {
		fmt.Printf("  Last change: %s\n", st.LastBumpReason)
	}
	if history <= 0 || len(st.History) == 0 {
		fmt.Println()
		return
	}

	entries := st.History
	if len(entries) > history {
		entries = entries[len(entries)-history:]
	}
	fmt.Printf("\n  History:\n")
	for _, h := range entries {
		line := fmt.Sprintf("%-8s %-6s %s", h.Version, h.Event, h.Reason)
		if h.PhaseRef != "" {
			line += " [" + h.PhaseRef + "]"
		}
		fmt.Printf("    %s %s\n", gray(h.Timestamp.Format("2006-01-02 15:04")), line)
	}
	fmt.Println()
}
