// Package memory is the core of a project's memory: it validates requests,
// delegates to the store, and fans out side effects (metrics, sync
// milestones, logging) without letting any of them fail the caller.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// ContextSummaryKey is the config key holding the last generated summary
const ContextSummaryKey = "context_window_summary"

// Service is one project's memory. It is safe for concurrent use; writes are
// serialized by the store.
type Service struct {
	projectID string
	store     storage.Storage
	notifier  Notifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithNotifier routes milestones to n (usually the sync engine)
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics records operation metrics on m
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wraps an open store
func NewService(projectID string, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		projectID: projectID,
		store:     store,
		notifier:  nopNotifier{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("project", projectID)
	return s
}

// SetNotifier replaces the milestone sink. Used when the sync engine is
// built after the service it listens to.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// Signal forwards an explicit milestone to the sync engine
func (s *Service) Signal(m Milestone) { s.notifier.Notify(m) }

// ProjectID returns the project identifier
func (s *Service) ProjectID() string { return s.projectID }

// Store returns the underlying store
func (s *Service) Store() storage.Storage { return s.store }

// Close closes the store
func (s *Service) Close() error { return s.store.Close() }

var _ Client = (*Service)(nil)

// RecordError stores an error event and returns what is already known about it
func (s *Service) RecordError(ctx context.Context, ev *types.ErrorEvent) (*types.RecordErrorResult, error) {
	if ev == nil {
		return nil, types.Invalid("", "error event is required")
	}
	res, err := s.store.RecordError(ctx, ev)
	if err != nil {
		return nil, s.fail("record_error", err)
	}

	if s.metrics != nil {
		s.metrics.ErrorsRecorded.WithLabelValues(s.projectID, string(ev.Level), strconv.FormatBool(res.IsRecurring)).Inc()
	}
	s.logger.Debug("error recorded",
		"id", res.LocalID,
		"fingerprint", res.Pattern.FingerprintHash,
		"occurrences", res.Pattern.OccurrenceCount,
		"recurring", res.IsRecurring)
	if !res.Pattern.IsSentinel() {
		s.notifier.Notify(MilestoneErrorRecorded)
	}
	return res, nil
}

// CaptureError records a Go error as an error event. The error's chain of
// messages becomes the message; errors.Unwrap layers go to the stack trace
// so the fingerprint keys on the outermost text.
func (s *Service) CaptureError(ctx context.Context, cause error, phaseRef string, extra map[string]interface{}) (*types.RecordErrorResult, error) {
	if cause == nil {
		return nil, types.Invalid("error", "is required")
	}
	ev := &types.ErrorEvent{
		Level:    types.LevelError,
		PhaseRef: phaseRef,
		Message:  cause.Error(),
		Context:  extra,
	}
	var chain string
	for inner := errors.Unwrap(cause); inner != nil; inner = errors.Unwrap(inner) {
		chain += fmt.Sprintf("caused by: %s\n", inner.Error())
	}
	ev.StackTrace = chain
	ev.ErrorCode = types.Code(cause)
	if ev.ErrorCode == types.CodeInternal {
		ev.ErrorCode = ""
	}
	return s.RecordError(ctx, ev)
}

// RecordSolution links a fix to an error event and bumps the patch version
func (s *Service) RecordSolution(ctx context.Context, sol *types.Solution) (*types.Solution, error) {
	if sol == nil {
		return nil, types.Invalid("", "solution is required")
	}
	out, err := s.store.RecordSolution(ctx, sol)
	if err != nil {
		return nil, s.fail("record_solution", err)
	}
	if s.metrics != nil {
		s.metrics.SolutionsRecorded.WithLabelValues(s.projectID, string(out.AppliedBy)).Inc()
		s.metrics.VersionBumps.WithLabelValues(s.projectID, string(version.ComponentPatch)).Inc()
	}
	s.logger.Info("solution recorded", "solution", out.ID, "error", out.ErrorID, "effectiveness", out.Effectiveness)
	s.notifier.Notify(MilestoneSolutionRecorded)
	return out, nil
}

// FindSimilar returns stored errors that resemble text, best first
func (s *Service) FindSimilar(ctx context.Context, text string, limit int) ([]types.SimilarMatch, error) {
	out, err := s.store.FindSimilar(ctx, text, limit)
	if err != nil {
		return nil, s.fail("find_similar", err)
	}
	return out, nil
}

// GetPatterns lists patterns seen at least minOccurrences times
func (s *Service) GetPatterns(ctx context.Context, minOccurrences int) ([]*types.ErrorPattern, error) {
	if minOccurrences < 0 {
		return nil, types.Invalid("min_occurrences", "cannot be negative")
	}
	out, err := s.store.GetPatterns(ctx, minOccurrences)
	if err != nil {
		return nil, s.fail("get_patterns", err)
	}
	return out, nil
}

// RecordDecision stores a decision
func (s *Service) RecordDecision(ctx context.Context, d *types.Decision) (string, error) {
	if d == nil {
		return "", types.Invalid("", "decision is required")
	}
	id, err := s.store.RecordDecision(ctx, d)
	if err != nil {
		return "", s.fail("record_decision", err)
	}
	s.logger.Info("decision recorded", "decision", id, "category", d.Category)
	return id, nil
}

// ListDecisions lists decisions, optionally for one phase
func (s *Service) ListDecisions(ctx context.Context, phaseRef string, limit int) ([]*types.Decision, error) {
	out, err := s.store.ListDecisions(ctx, phaseRef, limit)
	if err != nil {
		return nil, s.fail("list_decisions", err)
	}
	return out, nil
}

// TransitionGate submits gate evidence and moves the phase's gate out of
// pending. A pass bumps the minor version atomically with the gate.
func (s *Service) TransitionGate(ctx context.Context, d *types.GateDecision) (*types.QualityGate, error) {
	if d == nil {
		return nil, types.Invalid("", "gate decision is required")
	}
	gate, err := s.store.TransitionGate(ctx, d)
	if err != nil {
		return nil, s.fail("transition_gate", err)
	}
	if s.metrics != nil {
		s.metrics.GateTransitions.WithLabelValues(s.projectID, string(gate.Status)).Inc()
		if gate.Status == types.GatePassed {
			s.metrics.VersionBumps.WithLabelValues(s.projectID, string(version.ComponentMinor)).Inc()
		}
	}
	s.logger.Info("gate decided", "gate", gate.ID, "phase", gate.PhaseRef, "status", gate.Status, "version", gate.VersionAtDecision)
	if gate.Status == types.GatePassed {
		s.notifier.Notify(MilestoneGatePassed)
	}
	return gate, nil
}

// ListGates lists gate records, optionally for one phase
func (s *Service) ListGates(ctx context.Context, phaseRef string) ([]*types.QualityGate, error) {
	out, err := s.store.ListGates(ctx, phaseRef)
	if err != nil {
		return nil, s.fail("list_gates", err)
	}
	return out, nil
}

// GetVersion returns the version with its history
func (s *Service) GetVersion(ctx context.Context) (*types.VersionState, error) {
	out, err := s.store.GetVersion(ctx)
	if err != nil {
		return nil, s.fail("get_version", err)
	}
	return out, nil
}

// BumpVersion applies a manual bump
func (s *Service) BumpVersion(ctx context.Context, component version.Component, reason string, opts version.BumpOptions) (*types.VersionState, error) {
	out, err := s.store.BumpVersion(ctx, component, reason, opts)
	if err != nil {
		return nil, s.fail("bump_version", err)
	}
	if s.metrics != nil {
		s.metrics.VersionBumps.WithLabelValues(s.projectID, string(component)).Inc()
	}
	s.logger.Info("version bumped", "component", component, "version", version.FromState(*out).String(), "reason", reason)
	return out, nil
}

// SetVersion sets the version explicitly; lowering it needs force
func (s *Service) SetVersion(ctx context.Context, target version.Version, reason string, force bool) (*types.VersionState, error) {
	out, err := s.store.SetVersion(ctx, target, reason, force)
	if err != nil {
		return nil, s.fail("set_version", err)
	}
	if s.metrics != nil {
		s.metrics.VersionBumps.WithLabelValues(s.projectID, string(types.VersionEventSet)).Inc()
	}
	s.logger.Warn("version set explicitly", "version", target.String(), "force", force, "reason", reason)
	return out, nil
}

// GetStatistics returns aggregate counts and derived quality metrics
func (s *Service) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	out, err := s.store.GetStatistics(ctx)
	if err != nil {
		return nil, s.fail("get_statistics", err)
	}
	if s.metrics != nil {
		s.metrics.SyncBacklog.WithLabelValues(s.projectID).Set(float64(out.SyncBacklog))
	}
	return out, nil
}

// RecentEvents returns the newest activity log entries
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*events.MemoryEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := s.store.RecentEvents(ctx, limit)
	if err != nil {
		return nil, s.fail("recent_events", err)
	}
	return out, nil
}

// ContextSummary builds a one-line status suitable for prompt injection and
// stores it under ContextSummaryKey.
func (s *Service) ContextSummary(ctx context.Context) (string, error) {
	st, err := s.store.GetStatistics(ctx)
	if err != nil {
		return "", s.fail("context_summary", err)
	}
	gates, err := s.store.ListGates(ctx, "")
	if err != nil {
		return "", s.fail("context_summary", err)
	}
	milestone := "Project Initialized"
	for _, g := range gates {
		if g.Status == types.GatePassed {
			milestone = fmt.Sprintf("%s passed at %s", g.PhaseRef, g.VersionAtDecision)
			break
		}
	}

	summary := fmt.Sprintf(
		"Project Status: ACTIVE. Version: %s. Recent Errors (24h): %d. Unresolved: %d. "+
			"Recurring Patterns: %d. Last Milestone: %s.",
		st.Version, st.ErrorsLast24h, st.UnresolvedErrors, st.RecurringPatterns, milestone)

	if err := s.store.SetConfig(ctx, ContextSummaryKey, summary); err != nil {
		return "", s.fail("context_summary", err)
	}
	return summary, nil
}

// fail logs and counts a failed operation and returns err unchanged
func (s *Service) fail(op string, err error) error {
	code := types.Code(err)
	if s.metrics != nil {
		s.metrics.OperationErrors.WithLabelValues(s.projectID, op, code).Inc()
	}
	switch {
	case errors.Is(err, types.ErrStorageUnavailable), code == types.CodeInternal:
		s.logger.Error("operation failed", "op", op, "code", code, "error", err)
	default:
		s.logger.Debug("operation rejected", "op", op, "code", code, "error", err)
	}
	return err
}
