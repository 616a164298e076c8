// Package gates holds the quality gate rules: which terminal status a pending
// gate may move to, given the evidence recorded on it.
//
// The rules are pure. Storage backends call Decide inside the transaction that
// writes the transition so the check and the write see the same record.
package gates

import (
	"fmt"
	"strings"

	"github.com/nebula-protocol/nebula/internal/types"
)

// transitions lists the allowed moves. Terminal statuses have none.
var transitions = map[types.GateStatus][]types.GateStatus{
	types.GatePending: {types.GatePassed, types.GateFailed, types.GateSkipped},
}

// CanTransition reports whether from -> to is a legal gate transition
func CanTransition(from, to types.GateStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Criteria describes how the recorded evidence measures up against a pass
type Criteria struct {
	AutomatedComplete bool
	ManualComplete    bool
	SkipsJustified    bool
}

// Evaluate checks the pass criteria for a set of results
func Evaluate(r types.GateResults) Criteria {
	return Criteria{
		AutomatedComplete: r.TestsAutomatedPassing == r.TestsAutomated,
		ManualComplete:    r.TestsManual == 0 || r.TestsManualPassing == r.TestsManual,
		SkipsJustified:    r.TestsSkipped == 0 || r.HasSkipReasons(),
	}
}

// PassAllowed reports whether every pass criterion is met
func (c Criteria) PassAllowed() bool {
	return c.AutomatedComplete && c.ManualComplete && c.SkipsJustified
}

// Unmet lists the criteria that block a pass
func (c Criteria) Unmet() []string {
	var out []string
	if !c.AutomatedComplete {
		out = append(out, "automated tests failing")
	}
	if !c.ManualComplete {
		out = append(out, "manual verification incomplete")
	}
	if !c.SkipsJustified {
		out = append(out, "skipped tests lack reasons")
	}
	return out
}

// CheckOpen returns ErrGateClosed when g no longer accepts input
func CheckOpen(g *types.QualityGate) error {
	if g.Status.IsTerminal() {
		return fmt.Errorf("%w: gate %s is %s", types.ErrGateClosed, g.ID, g.Status)
	}
	return nil
}

// Decide resolves the status a pending gate moves to. An empty requested
// status passes the gate when the criteria allow it; otherwise the caller
// has to choose failed or skipped explicitly.
func Decide(g *types.QualityGate, requested types.GateStatus) (types.GateStatus, error) {
	if err := CheckOpen(g); err != nil {
		return "", err
	}
	if err := g.GateResults.Validate(); err != nil {
		return "", err
	}

	crit := Evaluate(g.GateResults)
	switch requested {
	case "":
		if !crit.PassAllowed() {
			return "", fmt.Errorf("%w: %s; choose failed or skipped explicitly",
				types.ErrGateCriteriaNotMet, strings.Join(crit.Unmet(), ", "))
		}
		requested = types.GatePassed
	case types.GatePassed:
		if !crit.PassAllowed() {
			return "", fmt.Errorf("%w: %s", types.ErrGateCriteriaNotMet, strings.Join(crit.Unmet(), ", "))
		}
	case types.GateSkipped:
		if !g.HasSkipReasons() {
			return "", types.Invalid("skip_reasons", "required to skip a gate")
		}
	case types.GateFailed:
	default:
		return "", types.Invalid("status", "must be one of [passed failed skipped]")
	}

	if !CanTransition(g.Status, requested) {
		return "", fmt.Errorf("%w: cannot move gate from %s to %s", types.ErrGateClosed, g.Status, requested)
	}
	return requested, nil
}
