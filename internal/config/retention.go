package config

import (
	"fmt"
	"time"
)

// RetentionConfig holds configuration for activity log retention
type RetentionConfig struct {
	// RetentionDays is how long regular activity events are kept
	// Default: 90, Range: 1-730
	RetentionDays int `yaml:"retention_days"`

	// RetentionCriticalDays is how long critical events are kept
	// Must be >= RetentionDays
	// Default: 365, Range: 1-1825
	RetentionCriticalDays int `yaml:"retention_critical_days"`

	// GlobalLimitEvents caps the activity log per project
	// Default: 100000, Range: 1000-1000000
	GlobalLimitEvents int `yaml:"global_limit_events"`

	// CleanupIntervalHours is how often `nebula serve` prunes the log
	// Default: 24, Range: 1-168 (1 week)
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`

	// CleanupEnabled controls whether automatic cleanup runs
	// Default: true
	CleanupEnabled bool `yaml:"cleanup_enabled"`
}

// DefaultRetentionConfig returns the default retention configuration.
// Error events, patterns and solutions are never pruned; only the activity
// log is.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays:         90,
		RetentionCriticalDays: 365,
		GlobalLimitEvents:     100000,
		CleanupIntervalHours:  24,
		CleanupEnabled:        true,
	}
}

// Validate checks if the configuration has valid values
func (c RetentionConfig) Validate() error {
	if c.RetentionDays < 1 || c.RetentionDays > 730 {
		return fmt.Errorf("retention_days must be between 1 and 730 (got %d)", c.RetentionDays)
	}
	if c.RetentionCriticalDays < 1 || c.RetentionCriticalDays > 1825 {
		return fmt.Errorf("retention_critical_days must be between 1 and 1825 (got %d)",
			c.RetentionCriticalDays)
	}
	if c.RetentionCriticalDays < c.RetentionDays {
		return fmt.Errorf("retention_critical_days (%d) must be >= retention_days (%d)",
			c.RetentionCriticalDays, c.RetentionDays)
	}
	if c.GlobalLimitEvents < 1000 {
		return fmt.Errorf("global_limit_events must be at least 1000 (got %d)",
			c.GlobalLimitEvents)
	}
	if c.GlobalLimitEvents > 1000000 {
		return fmt.Errorf("global_limit_events too large (got %d, max 1000000)",
			c.GlobalLimitEvents)
	}
	if c.CleanupIntervalHours < 1 || c.CleanupIntervalHours > 168 {
		return fmt.Errorf("cleanup_interval_hours must be between 1 and 168 (got %d)",
			c.CleanupIntervalHours)
	}
	return nil
}

// Cutoffs returns the deletion thresholds relative to now
func (c RetentionConfig) Cutoffs(now time.Time) (regular, critical time.Time) {
	day := 24 * time.Hour
	return now.Add(-time.Duration(c.RetentionDays) * day), now.Add(-time.Duration(c.RetentionCriticalDays) * day)
}

// CleanupInterval returns the cleanup period as a time.Duration
func (c RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// String returns a human-readable representation of the config
func (c RetentionConfig) String() string {
	return fmt.Sprintf(
		"RetentionConfig{RetentionDays: %d, RetentionCriticalDays: %d, GlobalLimit: %d, "+
			"CleanupInterval: %dh, Enabled: %t}",
		c.RetentionDays, c.RetentionCriticalDays, c.GlobalLimitEvents,
		c.CleanupIntervalHours, c.CleanupEnabled,
	)
}
