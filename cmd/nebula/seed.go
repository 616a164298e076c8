package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/memory"
)

var seedCmd = &cobra.Command{
	Use:   "seed <framework>",
	Short: "Load a framework's known error patterns",
	Long: `Load a seed pack of known error patterns and fixes for a framework, so
first occurrences of common errors already come with a suggestion.

Packs are YAML files read from <data_dir>/seeds/<framework>.yaml, or from
--file:

  framework: gin
  patterns:
    - signature: "http: superfluous response.WriteHeader call"
      solution: "return after writing an error response"
      effectiveness: 4.5

Seeded patterns never change local occurrence counts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLocal("seed"); err != nil {
			return err
		}
		framework := args[0]
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = memory.SeedPath(cfg.DataDir, framework)
		}

		pack, err := memory.LoadSeedFile(path, framework)
		if err != nil {
			return err
		}

		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		added, err := svc.Seed(ctx, pack)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{"framework": pack.Framework, "patterns": len(pack.Patterns), "added": added})
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Seeded %s: %d patterns, %d new\n", green("✓"), pack.Framework, len(pack.Patterns), added)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringP("file", "f", "", "Seed pack file (default <data_dir>/seeds/<framework>.yaml)")
	rootCmd.AddCommand(seedCmd)
}
