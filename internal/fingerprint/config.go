package fingerprint

import "fmt"

// Config holds the fuzzy matching settings
type Config struct {
	// SimilarityFloor is the minimum Jaccard score (0.0-1.0) for a fuzzy match
	// Default: 0.6
	SimilarityFloor float64

	// CandidateCap bounds how many stored signatures are scored per query
	// Default: 500
	CandidateCap int

	// MaxLimit is the largest result count a caller may request
	// Default: 50
	MaxLimit int
}

// DefaultConfig returns the default matching configuration
func DefaultConfig() Config {
	return Config{
		SimilarityFloor: 0.6,
		CandidateCap:    500,
		MaxLimit:        50,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.SimilarityFloor <= 0.0 || c.SimilarityFloor > 1.0 {
		return fmt.Errorf("similarity_floor must be in (0.0, 1.0] (got %.2f)", c.SimilarityFloor)
	}
	if c.CandidateCap <= 0 {
		return fmt.Errorf("candidate_cap must be positive (got %d)", c.CandidateCap)
	}
	if c.CandidateCap > 100000 {
		return fmt.Errorf("candidate_cap too large (got %d, max 100000)", c.CandidateCap)
	}
	if c.MaxLimit <= 0 {
		return fmt.Errorf("max_limit must be positive (got %d)", c.MaxLimit)
	}
	return nil
}

// ClampLimit bounds a caller-supplied result limit to [1, MaxLimit]
func (c Config) ClampLimit(limit int) int {
	if limit <= 0 {
		return 5
	}
	if limit > c.MaxLimit {
		return c.MaxLimit
	}
	return limit
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Floor: %.2f, CandidateCap: %d, MaxLimit: %d}",
		c.SimilarityFloor, c.CandidateCap, c.MaxLimit)
}
