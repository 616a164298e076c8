package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/storage/sqlite"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

type recordingNotifier struct {
	mu   sync.Mutex
	seen []Milestone
}

func (r *recordingNotifier) Notify(m Milestone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m)
}

func (r *recordingNotifier) milestones() []Milestone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Milestone(nil), r.seen...)
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	store, err := sqlite.New(sqlite.MemoryPath)
	require.NoError(t, err)
	svc := NewService("web", store, opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestServiceNotifiesMilestones(t *testing.T) {
	n := &recordingNotifier{}
	svc := newTestService(t, WithNotifier(n))
	ctx := context.Background()

	res, err := svc.RecordError(ctx, &types.ErrorEvent{Message: "build failed: exit status 2"})
	require.NoError(t, err)

	_, err = svc.RecordError(ctx, &types.ErrorEvent{Message: ""})
	require.NoError(t, err)

	_, err = svc.RecordSolution(ctx, &types.Solution{
		ErrorID: res.LocalID, Description: "fix import cycle", AppliedBy: types.AppliedByAI, Effectiveness: 5,
	})
	require.NoError(t, err)

	_, err = svc.TransitionGate(ctx, &types.GateDecision{
		PhaseRef: "phase-1",
		Results:  types.GateResults{TestsAutomated: 4, TestsAutomatedPassing: 4},
	})
	require.NoError(t, err)

	failing := types.GateResults{TestsAutomated: 4, TestsAutomatedPassing: 1}
	_, err = svc.TransitionGate(ctx, &types.GateDecision{PhaseRef: "phase-2", Status: types.GateFailed, Results: failing})
	require.NoError(t, err)

	assert.Equal(t, []Milestone{MilestoneErrorRecorded, MilestoneSolutionRecorded, MilestoneGatePassed}, n.milestones(),
		"sentinel errors and failed gates do not notify")
}

func TestServiceMetrics(t *testing.T) {
	m := observability.NewMetrics()
	svc := newTestService(t, WithMetrics(m))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordError(ctx, &types.ErrorEvent{Message: fmt.Sprintf("request %d timed out", i)})
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsRecorded.WithLabelValues("web", "ERROR", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsRecorded.WithLabelValues("web", "ERROR", "true")))

	_, err := svc.RecordSolution(ctx, &types.Solution{ErrorID: 404, Description: "x", AppliedBy: types.AppliedByHuman, Effectiveness: 3})
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("web", "record_solution", types.CodeNotFound)))

	st, err := svc.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(st.SyncBacklog), testutil.ToFloat64(m.SyncBacklog.WithLabelValues("web")))
}

func TestServiceRejectsNilRequests(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordError(ctx, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = svc.RecordSolution(ctx, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = svc.RecordDecision(ctx, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = svc.TransitionGate(ctx, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = svc.GetPatterns(ctx, -1)
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = svc.CaptureError(ctx, nil, "", nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestCaptureError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cause := fmt.Errorf("load config: %w", os.ErrNotExist)
	res, err := svc.CaptureError(ctx, cause, "phase-1", map[string]interface{}{"component": "loader"})
	require.NoError(t, err)

	ev, err := svc.Store().GetError(ctx, res.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "load config: file does not exist", ev.Message)
	assert.Contains(t, ev.StackTrace, "caused by: file does not exist")
	assert.Equal(t, "phase-1", ev.PhaseRef)
	assert.Equal(t, "loader", ev.Context["component"])
	assert.Empty(t, ev.ErrorCode)

	res, err = svc.CaptureError(ctx, fmt.Errorf("db: %w", types.ErrStorageUnavailable), "", nil)
	require.NoError(t, err)
	ev, err = svc.Store().GetError(ctx, res.LocalID)
	require.NoError(t, err)
	assert.Equal(t, types.CodeStorageUnavailable, ev.ErrorCode)
}

func TestContextSummary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	summary, err := svc.ContextSummary(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "Version: 0.0.1")
	assert.Contains(t, summary, "Last Milestone: Project Initialized")

	_, err = svc.RecordError(ctx, &types.ErrorEvent{Message: "cache miss storm"})
	require.NoError(t, err)
	_, err = svc.TransitionGate(ctx, &types.GateDecision{PhaseRef: "phase-1", Results: types.GateResults{}})
	require.NoError(t, err)

	summary, err = svc.ContextSummary(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "Recent Errors (24h): 1")
	assert.Contains(t, summary, "Last Milestone: phase-1 passed at 0.1.0")

	stored, err := svc.Store().GetConfig(ctx, ContextSummaryKey)
	require.NoError(t, err)
	assert.Equal(t, summary, stored)
}

func TestVersionOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	state, err := svc.BumpVersion(ctx, version.ComponentMajor, "GA release", version.BumpOptions{Reset: true})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version.FromState(*state).String())

	_, err = svc.SetVersion(ctx, version.Version{Major: 0, Minor: 9}, "rollback", false)
	assert.True(t, errors.Is(err, types.ErrVersionRegression))

	state, err = svc.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Major)
}

func TestSeedPack(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	data := []byte(`
framework: gin
patterns:
  - signature: "http: panic serving 10.0.0.1:52314: runtime error: invalid memory address"
    solution: "initialize the router dependencies before Run"
    effectiveness: 4.5
  - signature: "listen tcp :8080: bind: address already in use"
    solution: "stop the previous server or change the port"
`)
	pack, err := ParseSeedPack(data, "")
	require.NoError(t, err)
	assert.Equal(t, "gin", pack.Framework)
	require.Len(t, pack.Patterns, 2)
	assert.Equal(t, 4.5, pack.Patterns[0].AvgEffectiveness)

	added, err := svc.Seed(ctx, pack)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = svc.Seed(ctx, pack)
	require.NoError(t, err)
	assert.Zero(t, added, "reseeding is idempotent")

	// A local occurrence of a seeded error gets the seed as its hint
	res, err := svc.RecordError(ctx, &types.ErrorEvent{Message: "listen tcp :9090: bind: address already in use"})
	require.NoError(t, err)
	require.NotNil(t, res.RemoteHint)
	assert.Equal(t, "seed:gin", res.RemoteHint.Source)
	assert.Equal(t, "stop the previous server or change the port", res.RemoteHint.SuggestedSolution)
	assert.Equal(t, 1, res.Pattern.OccurrenceCount)
}

func TestParseSeedPackErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "framework: [unterminated"},
		{"no framework", "patterns:\n  - signature: x\n"},
		{"no patterns", "framework: gin\n"},
		{"blank signature", "framework: gin\npatterns:\n  - solution: y\n"},
		{"effectiveness out of range", "framework: gin\npatterns:\n  - signature: x\n    effectiveness: 7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeedPack([]byte(tt.data), "")
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadSeedFile(SeedPath(dir, "django"), "django")
	assert.ErrorIs(t, err, types.ErrNotFound)

	path := SeedPath(dir, "django")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("patterns:\n  - signature: \"no such table: auth_user\"\n"), 0644))

	pack, err := LoadSeedFile(path, "django")
	require.NoError(t, err)
	assert.Equal(t, "django", pack.Framework)
}
