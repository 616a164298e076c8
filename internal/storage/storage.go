package storage

import (
	"context"
	"time"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/storage/sqlite"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// Storage is a single project's local memory store. All writes are
// serialized; reads observe the last committed state.
type Storage interface {
	events.EventStore

	// Errors and patterns
	RecordError(ctx context.Context, ev *types.ErrorEvent) (*types.RecordErrorResult, error)
	GetError(ctx context.Context, id int64) (*types.ErrorEvent, error)
	ListErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorEvent, error)
	FindSimilar(ctx context.Context, text string, limit int) ([]types.SimilarMatch, error)
	GetPattern(ctx context.Context, hash string) (*types.ErrorPattern, error)
	GetPatterns(ctx context.Context, minOccurrences int) ([]*types.ErrorPattern, error)

	// Solutions
	RecordSolution(ctx context.Context, sol *types.Solution) (*types.Solution, error)
	GetSolution(ctx context.Context, id string) (*types.Solution, error)
	GetSolutions(ctx context.Context, errorID int64) ([]types.Solution, error)

	// Decisions
	RecordDecision(ctx context.Context, d *types.Decision) (string, error)
	ListDecisions(ctx context.Context, phaseRef string, limit int) ([]*types.Decision, error)

	// Quality gates
	OpenGate(ctx context.Context, phaseRef string, phaseNumber int) (*types.QualityGate, error)
	RecordGateResults(ctx context.Context, gateID string, results types.GateResults) (*types.QualityGate, error)
	DecideGate(ctx context.Context, gateID string, requested types.GateStatus) (*types.QualityGate, error)
	TransitionGate(ctx context.Context, d *types.GateDecision) (*types.QualityGate, error)
	GetGate(ctx context.Context, id string) (*types.QualityGate, error)
	ListGates(ctx context.Context, phaseRef string) ([]*types.QualityGate, error)

	// Version
	GetVersion(ctx context.Context) (*types.VersionState, error)
	CurrentVersion(ctx context.Context) (version.Version, error)
	BumpVersion(ctx context.Context, component version.Component, reason string, opts version.BumpOptions) (*types.VersionState, error)
	SetVersion(ctx context.Context, target version.Version, reason string, force bool) (*types.VersionState, error)

	// Known patterns (central and seeded)
	MergeKnownPatterns(ctx context.Context, patterns []types.KnownPattern, pulled *types.PullPosition) (int, error)
	GetKnownPattern(ctx context.Context, hash string) (*types.KnownPattern, error)
	ListKnownPatterns(ctx context.Context, source string, limit int) ([]*types.KnownPattern, error)

	// Sync cursor
	PendingBatch(ctx context.Context, afterSeq int64, limit int) (*types.SyncBatch, error)
	SyncBacklog(ctx context.Context) (int, error)
	GetSyncCursor(ctx context.Context) (*types.SyncCursor, error)
	AckPush(ctx context.Context, ack types.PushAck) (*types.SyncCursor, error)
	RecordSyncFailure(ctx context.Context, cause error, attempts int) (*types.SyncCursor, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Activity log
	RecentEvents(ctx context.Context, limit int) ([]*events.MemoryEvent, error)
	PruneEvents(ctx context.Context, cutoff, criticalCutoff time.Time, globalLimit int) (int, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Path() string
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the database file, or ":memory:"
	Path string

	// Matching configures fuzzy similarity search
	Matching fingerprint.Config
}

// DefaultConfig returns the default configuration for the discovered database
func DefaultConfig() *Config {
	return &Config{
		Path:     DefaultDBName,
		Matching: fingerprint.DefaultConfig(),
	}
}

// NewStorage opens the project store described by cfg
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	return sqlite.NewContext(ctx, cfg.Path, sqlite.WithMatcherConfig(cfg.Matching))
}

var _ Storage = (*sqlite.SQLiteStorage)(nil)
