package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/types"
)

func pendingGate(r types.GateResults) *types.QualityGate {
	return &types.QualityGate{ID: "g-1", PhaseRef: "phase-1", Status: types.GatePending, GateResults: r}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		results   types.GateResults
		requested types.GateStatus
		want      types.GateStatus
		wantErr   error
	}{
		{
			name:      "all automated passing",
			results:   types.GateResults{TestsAutomated: 10, TestsAutomatedPassing: 10},
			requested: types.GatePassed,
			want:      types.GatePassed,
		},
		{
			name:    "implicit pass",
			results: types.GateResults{TestsAutomated: 4, TestsAutomatedPassing: 4, TestsManual: 2, TestsManualPassing: 2},
			want:    types.GatePassed,
		},
		{
			name:      "failing automated rejects pass",
			results:   types.GateResults{TestsAutomated: 10, TestsAutomatedPassing: 9},
			requested: types.GatePassed,
			wantErr:   types.ErrGateCriteriaNotMet,
		},
		{
			name:    "failing manual rejects implicit pass",
			results: types.GateResults{TestsAutomated: 1, TestsAutomatedPassing: 1, TestsManual: 3, TestsManualPassing: 2},
			wantErr: types.ErrGateCriteriaNotMet,
		},
		{
			name:      "explicit fail always allowed",
			results:   types.GateResults{TestsAutomated: 10, TestsAutomatedPassing: 2},
			requested: types.GateFailed,
			want:      types.GateFailed,
		},
		{
			name:      "skip needs reasons",
			results:   types.GateResults{TestsAutomated: 10, TestsAutomatedPassing: 2},
			requested: types.GateSkipped,
			wantErr:   types.ErrValidation,
		},
		{
			name:      "skip with reasons",
			results:   types.GateResults{TestsAutomated: 3, TestsAutomatedPassing: 1, TestsSkipped: 2, SkipReasons: []string{"hardware unavailable"}},
			requested: types.GateSkipped,
			want:      types.GateSkipped,
		},
		{
			name:      "skipped tests without reasons are invalid",
			results:   types.GateResults{TestsAutomated: 3, TestsAutomatedPassing: 3, TestsSkipped: 1},
			requested: types.GatePassed,
			wantErr:   types.ErrValidation,
		},
		{
			name:      "pending is not a decision",
			results:   types.GateResults{},
			requested: types.GatePending,
			wantErr:   types.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(pendingGate(tt.results), tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideTerminalGate(t *testing.T) {
	for _, s := range []types.GateStatus{types.GatePassed, types.GateFailed, types.GateSkipped} {
		g := pendingGate(types.GateResults{TestsAutomated: 1, TestsAutomatedPassing: 1})
		g.Status = s
		_, err := Decide(g, types.GateFailed)
		assert.ErrorIs(t, err, types.ErrGateClosed, s)
		assert.ErrorIs(t, CheckOpen(g), types.ErrGateClosed)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(types.GatePending, types.GatePassed))
	assert.False(t, CanTransition(types.GatePassed, types.GateFailed))
	assert.False(t, CanTransition(types.GatePending, types.GatePending))
}

func TestCriteriaUnmet(t *testing.T) {
	c := Evaluate(types.GateResults{TestsAutomated: 2, TestsAutomatedPassing: 1, TestsManual: 1})
	assert.False(t, c.PassAllowed())
	assert.Equal(t, []string{"automated tests failing", "manual verification incomplete"}, c.Unmet())
}
