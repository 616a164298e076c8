package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nebula-protocol/nebula/internal/config"
	"github.com/nebula-protocol/nebula/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init [project-id]",
	Short: "Create project memory in the current directory",
	Long: `Create project memory by making a .nebula/ directory with a database.

This creates:
  - .nebula/project_memory.db (SQLite database, version 0.0.1)
  - .nebula/config.yaml (project id, unless one exists)

If no project id is provided, the current directory name is used.

Example:
  cd ~/myproject
  nebula init              # project id "myproject"
  nebula init web-api      # project id "web-api"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}

		id := filepath.Base(cwd)
		if len(args) > 0 {
			id = args[0]
		} else if cfg.ProjectID != "" {
			id = cfg.ProjectID
		}
		if err := storage.ValidateProjectID(id); err != nil {
			return err
		}

		path, err := storage.InitProject(cwd)
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := storage.NewStorage(ctx, &storage.Config{Path: path, Matching: cfg.Fingerprint()})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		_ = store.Close()

		cfgFile := config.DefaultPath(cwd)
		wroteConfig, err := writeProjectConfig(cfgFile, id)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized project memory\n\n", green("✓"))
		fmt.Printf("  Project: %s\n", cyan(id))
		fmt.Printf("  Database: %s\n", cyan(path))
		if wroteConfig {
			fmt.Printf("  Config: %s\n", cyan(cfgFile))
		}
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray(`nebula error "TypeError: x is undefined" --file src/app.ts`))
		fmt.Printf("  %s\n", gray("nebula seed gin"))
		fmt.Printf("  %s\n", gray("nebula context"))
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// writeProjectConfig creates a config file naming the project. An existing
// file is left alone.
func writeProjectConfig(path, id string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to check config: %w", err)
	}
	data, err := yaml.Marshal(struct {
		ProjectID string `yaml:"project_id"`
	}{id})
	if err != nil {
		return false, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write config: %w", err)
	}
	return true, nil
}
