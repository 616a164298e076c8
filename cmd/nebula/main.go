package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/client"
	"github.com/nebula-protocol/nebula/internal/config"
	"github.com/nebula-protocol/nebula/internal/control"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/storage"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "0.1.0-dev"

var (
	cfgPath    string
	dbPath     string
	projectID  string
	serverURL  string
	socketPath string
	verbose    bool
	jsonOutput bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nebula",
	Short: "Project memory for AI-assisted development",
	Long: `Nebula remembers the errors, fixes, decisions and quality gates of a
project so an assistant never solves the same problem twice.

Commands work on the project memory in .nebula/ by default. Use --server to
talk to a running 'nebula serve' over HTTP, or --socket to use its local
control socket.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		required := path != ""
		if path == "" {
			if wd, err := os.Getwd(); err == nil {
				path = config.DefaultPath(wd)
			}
		}
		loaded, err := config.Load(path, required)
		if err != nil {
			return err
		}
		if projectID != "" {
			if err := storage.ValidateProjectID(projectID); err != nil {
				return err
			}
			loaded.ProjectID = projectID
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default .nebula/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Project memory database (default: auto-discover .nebula/*.db)")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project id (default: config or directory name)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Use a running nebula server at this URL")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Use a running nebula server's control socket")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log internal activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

// cliLogger returns the configured logger, quiet unless --verbose
func cliLogger(w io.Writer) *slog.Logger {
	lc := cfg.Log
	if !verbose {
		lc.Level = "warn"
	}
	logger, err := lc.NewLogger(w)
	if err != nil {
		return slog.Default()
	}
	return logger
}

// resolveDBPath picks the local store: --db, then NEBULA_DB_PATH or the
// config file's db_path, then .nebula/*.db in the current directory
func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	return storage.DiscoverDatabase()
}

// openService opens the local project memory. The caller must Close it.
func openService(ctx context.Context) (*memory.Service, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStorage(ctx, &storage.Config{Path: path, Matching: cfg.Fingerprint()})
	if err != nil {
		return nil, err
	}
	id := cfg.ProjectID
	if id == "" {
		id = "local"
	}
	return memory.NewService(id, store, memory.WithLogger(cliLogger(os.Stderr))), nil
}

// requireProject returns the project id remote transports address
func requireProject() (string, error) {
	if cfg.ProjectID == "" {
		return "", fmt.Errorf("no project id: pass --project or set project_id in %s", config.FileName)
	}
	return cfg.ProjectID, nil
}

// openClient returns the memory to operate on: the HTTP server, the control
// socket or the local store, in that order of preference
func openClient(ctx context.Context) (memory.Client, func(), error) {
	switch {
	case serverURL != "":
		id, err := requireProject()
		if err != nil {
			return nil, nil, err
		}
		c, err := client.New(serverURL, id, client.WithToken(cfg.Server.Token))
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil

	case socketPath != "":
		id, err := requireProject()
		if err != nil {
			return nil, nil, err
		}
		c, err := control.NewClient(socketPath, id)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil

	default:
		svc, err := openService(ctx)
		if err != nil {
			return nil, nil, err
		}
		return svc, func() { _ = svc.Close() }, nil
	}
}

// requireLocal rejects --server and --socket for commands that only work on
// the local store
func requireLocal(name string) error {
	if serverURL != "" || socketPath != "" {
		return fmt.Errorf("'nebula %s' works on the local store only; drop --server/--socket", name)
	}
	return nil
}

// printJSON writes v as indented JSON to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
