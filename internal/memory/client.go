package memory

import (
	"context"

	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// Client is the capability surface of one project's memory. The in-process
// Service, the HTTP client and the control socket client all implement it,
// so tooling can switch transports without changing call sites.
type Client interface {
	RecordError(ctx context.Context, ev *types.ErrorEvent) (*types.RecordErrorResult, error)
	RecordSolution(ctx context.Context, sol *types.Solution) (*types.Solution, error)
	FindSimilar(ctx context.Context, text string, limit int) ([]types.SimilarMatch, error)
	GetPatterns(ctx context.Context, minOccurrences int) ([]*types.ErrorPattern, error)
	RecordDecision(ctx context.Context, d *types.Decision) (string, error)
	TransitionGate(ctx context.Context, d *types.GateDecision) (*types.QualityGate, error)
	GetVersion(ctx context.Context) (*types.VersionState, error)
	BumpVersion(ctx context.Context, component version.Component, reason string, opts version.BumpOptions) (*types.VersionState, error)
	SetVersion(ctx context.Context, target version.Version, reason string, force bool) (*types.VersionState, error)
	GetStatistics(ctx context.Context) (*types.Statistics, error)
	ContextSummary(ctx context.Context) (string, error)
}

// Milestone names a change the sync engine may want to push promptly
type Milestone string

const (
	MilestoneErrorRecorded    Milestone = "error_recorded"
	MilestoneSolutionRecorded Milestone = "solution_recorded"
	MilestoneGatePassed       Milestone = "gate_passed"
	MilestoneManual           Milestone = "manual"
)

// Notifier receives milestones. Notify must never block the caller.
type Notifier interface {
	Notify(m Milestone)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Milestone)

// Notify calls f(m)
func (f NotifierFunc) Notify(m Milestone) { f(m) }

type nopNotifier struct{}

func (nopNotifier) Notify(Milestone) {}
