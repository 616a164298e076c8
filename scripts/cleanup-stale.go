// scripts/cleanup-stale.go - Manual stale sync lock cleanup tool
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nebula-protocol/nebula/internal/storage"
)

func main() {
	// NEBULA_DATA_DIR points at a serve data dir; otherwise clean the local store
	var dbPaths []string
	if dataDir := os.Getenv("NEBULA_DATA_DIR"); dataDir != "" {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*", storage.DefaultDBName))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing projects: %v\n", err)
			os.Exit(1)
		}
		dbPaths = matches
	} else {
		dbPath, err := storage.DiscoverDatabase()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding database: %v\n", err)
			os.Exit(1)
		}
		dbPaths = []string{dbPath}
	}

	cleaned, failed := 0, 0
	for _, dbPath := range dbPaths {
		removed, err := storage.ClearStaleSyncLock(dbPath)
		switch {
		case errors.Is(err, storage.ErrSyncLocked):
			fmt.Printf("  %s: in use (%v)\n", dbPath, err)
		case err != nil:
			fmt.Fprintf(os.Stderr, "  %s: %v\n", dbPath, err)
			failed++
		case removed != nil:
			fmt.Printf("  %s: removed lock of %s (PID %d)\n", dbPath, removed.Holder, removed.PID)
			cleaned++
		}
	}

	if cleaned > 0 {
		fmt.Printf("✓ Cleaned up %d stale sync lock(s)\n", cleaned)
	} else {
		fmt.Println("✓ No stale sync locks found")
	}
	if failed > 0 {
		os.Exit(1)
	}
}
