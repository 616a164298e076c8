package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nebula-protocol/nebula/internal/types"
)

const (
	// DataDirName is the per-repository directory holding the project store
	DataDirName = ".nebula"
	// DefaultDBName is the store file name inside a project directory
	DefaultDBName = "project_memory.db"
	// EnvDBPath overrides discovery when set
	EnvDBPath = "NEBULA_DB_PATH"
)

var projectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// ValidateProjectID rejects identifiers that could escape the data directory
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return types.Invalid("project_id", "invalid project id %q: use 1-64 letters, digits, '.', '_' or '-'", id)
	}
	return nil
}

// ProjectDBPath returns the store path for a project under a shared data directory
func ProjectDBPath(dataDir, projectID string) (string, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, projectID, DefaultDBName), nil
}

// DiscoverDatabase looks for .nebula/*.db in the current directory only.
// NEBULA_DB_PATH, when set, is used as-is (including ":memory:").
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv(EnvDBPath); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks for .nebula/*.db in dir without walking up,
// so a nested repository never picks up its parent's memory.
func discoverDatabaseInDir(dir string) (string, error) {
	dataDir := filepath.Join(dir, DataDirName)

	if info, err := os.Stat(dataDir); err == nil && info.IsDir() {
		preferred := filepath.Join(dataDir, DefaultDBName)
		if _, err := os.Stat(preferred); err == nil {
			return filepath.Abs(preferred)
		}
		entries, err := os.ReadDir(dataDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					absPath, err := filepath.Abs(filepath.Join(dataDir, entry.Name()))
					if err != nil {
						return "", fmt.Errorf("failed to get absolute path: %w", err)
					}
					return absPath, nil
				}
			}
		}
	}

	return "", fmt.Errorf(
		"no %s/*.db found in %s\n"+
			"  Run 'nebula init' to create project memory in this directory\n"+
			"  Or use --db flag to specify database path explicitly",
		DataDirName, dir)
}

// InitProject creates the .nebula directory in projectDir and returns the
// path the store should be opened at. The database itself is created on
// first open.
func InitProject(projectDir string) (string, error) {
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return "", fmt.Errorf("project directory does not exist: %s", projectDir)
	}

	dataDir := filepath.Join(projectDir, DataDirName)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", DataDirName, err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBName)
	if _, err := os.Stat(dbPath); err == nil {
		return "", fmt.Errorf("project memory already exists: %s", dbPath)
	}
	return dbPath, nil
}
