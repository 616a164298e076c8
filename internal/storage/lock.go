package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrSyncLocked is returned when another live process owns a store's sync engine
var ErrSyncLocked = errors.New("sync engine already running for this store")

// SyncLock is the lock file format that gives one process ownership of a
// store's sync cursor. It sits next to the database file.
type SyncLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// SyncLockPath returns the lock file path for a database
func SyncLockPath(dbPath string) string {
	return dbPath + ".sync-lock"
}

// AcquireSyncLock claims the sync engine for dbPath. A lock left behind by a
// dead process on this host is taken over. In-memory stores need no lock and
// return an empty path.
func AcquireSyncLock(dbPath, holder, version string) (lockPath string, err error) {
	if dbPath == "" || dbPath == ":memory:" {
		return "", nil
	}
	lockPath = SyncLockPath(dbPath)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing SyncLock
		if json.Unmarshal(data, &existing) == nil {
			if existing.PID != os.Getpid() && isProcessAlive(existing.PID, existing.Hostname) {
				return "", fmt.Errorf("%w (holder %s, PID %d on %s, started %s)", ErrSyncLocked,
					existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
			}
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := SyncLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		Version:   version,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create sync lock: %w", err)
	}

	return lockPath, nil
}

// ReleaseSyncLock removes the lock file. An empty path is a no-op.
func ReleaseSyncLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sync lock: %w", err)
	}

	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given
// hostname. Remote hosts cannot be checked and count as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: the process exists but belongs to someone else
	return errors.Is(err, syscall.EPERM)
}

// ClearStaleSyncLock removes the lock for dbPath if its holder is gone and
// returns what it removed. It returns nil when there is no lock and
// ErrSyncLocked when the holder is still alive. An unreadable lock counts as
// stale.
func ClearStaleSyncLock(dbPath string) (*SyncLock, error) {
	lockPath := SyncLockPath(dbPath)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sync lock: %w", err)
	}

	var existing SyncLock
	if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
		return nil, fmt.Errorf("%w (holder %s, PID %d on %s)", ErrSyncLocked, existing.Holder, existing.PID, existing.Hostname)
	}
	if err := ReleaseSyncLock(lockPath); err != nil {
		return nil, err
	}
	return &existing, nil
}
