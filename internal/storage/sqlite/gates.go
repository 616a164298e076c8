package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/gates"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

const gateColumns = `
	id, phase_ref, phase_number, status, tests_automated, tests_automated_passing,
	tests_manual, tests_manual_passing, tests_skipped, skip_reasons, duration_minutes,
	performance_acceptable, notes, reviewer, reviewer_type, version_at_decision,
	opened_at, decided_at
`

// OpenGate starts a gate review for a phase. If the phase already has a
// pending gate, that gate is returned instead of opening a second one.
func (s *SQLiteStorage) OpenGate(ctx context.Context, phaseRef string, phaseNumber int) (*types.QualityGate, error) {
	if phaseRef == "" {
		return nil, types.Invalid("phase_ref", "is required")
	}
	var gate *types.QualityGate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		gate, err = s.openGateTx(ctx, tx, phaseRef, phaseNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gate, nil
}

func (s *SQLiteStorage) openGateTx(ctx context.Context, tx *sql.Tx, phaseRef string, phaseNumber int) (*types.QualityGate, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+gateColumns+" FROM quality_gates WHERE phase_ref = ? AND status = ? ORDER BY opened_at DESC LIMIT 1",
		phaseRef, types.GatePending)
	existing, err := scanGate(row)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, storageErr("look up pending gate", err)
	}

	gate := &types.QualityGate{
		ID:          uuid.New().String(),
		PhaseRef:    phaseRef,
		PhaseNumber: phaseNumber,
		Status:      types.GatePending,
		OpenedAt:    s.timestamp(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quality_gates (id, phase_ref, phase_number, status, opened_at)
		VALUES (?, ?, ?, ?, ?)
	`, gate.ID, gate.PhaseRef, gate.PhaseNumber, gate.Status, gate.OpenedAt); err != nil {
		return nil, storageErr("insert gate", err)
	}

	logged := events.New(events.EventTypeGateOpened, events.SeverityInfo, gate.ID,
		fmt.Sprintf("gate opened for %s", phaseRef))
	logged.Data = map[string]interface{}{"phase_ref": phaseRef, "phase_number": phaseNumber}
	if err := s.logEvent(ctx, tx, logged); err != nil {
		return nil, err
	}
	return gate, nil
}

// RecordGateResults replaces the evidence on a pending gate
func (s *SQLiteStorage) RecordGateResults(ctx context.Context, gateID string, results types.GateResults) (*types.QualityGate, error) {
	if err := results.Validate(); err != nil {
		return nil, err
	}
	var gate *types.QualityGate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		gate, err = s.recordResultsTx(ctx, tx, gateID, results)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gate, nil
}

func (s *SQLiteStorage) recordResultsTx(ctx context.Context, tx *sql.Tx, gateID string, r types.GateResults) (*types.QualityGate, error) {
	gate, err := getGateTx(ctx, tx, gateID)
	if err != nil {
		return nil, err
	}
	if err := gates.CheckOpen(gate); err != nil {
		return nil, err
	}

	reasons, err := json.Marshal(nonNil(r.SkipReasons))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal skip reasons: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE quality_gates SET
			tests_automated = ?, tests_automated_passing = ?,
			tests_manual = ?, tests_manual_passing = ?,
			tests_skipped = ?, skip_reasons = ?, duration_minutes = ?,
			performance_acceptable = ?, notes = ?, reviewer = ?, reviewer_type = ?
		WHERE id = ? AND status = ?
	`, r.TestsAutomated, r.TestsAutomatedPassing, r.TestsManual, r.TestsManualPassing,
		r.TestsSkipped, string(reasons), r.DurationMinutes, boolToInt(r.PerformanceAcceptable),
		r.Notes, r.Reviewer, r.ReviewerType, gateID, types.GatePending); err != nil {
		return nil, storageErr("update gate results", err)
	}
	gate.GateResults = r

	logged := events.New(events.EventTypeGateResultsUpdated, events.SeverityInfo, gateID,
		fmt.Sprintf("gate results: automated %d/%d, manual %d/%d, skipped %d",
			r.TestsAutomatedPassing, r.TestsAutomated, r.TestsManualPassing, r.TestsManual, r.TestsSkipped))
	if err := s.logEvent(ctx, tx, logged); err != nil {
		return nil, err
	}
	return gate, nil
}

// DecideGate moves a pending gate to a terminal status. Passing bumps the
// minor version in the same transaction; if that bump is rejected the whole
// transaction rolls back and the gate stays pending.
func (s *SQLiteStorage) DecideGate(ctx context.Context, gateID string, requested types.GateStatus) (*types.QualityGate, error) {
	var gate *types.QualityGate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		gate, err = s.decideTx(ctx, tx, gateID, requested)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gate, nil
}

func (s *SQLiteStorage) decideTx(ctx context.Context, tx *sql.Tx, gateID string, requested types.GateStatus) (*types.QualityGate, error) {
	gate, err := getGateTx(ctx, tx, gateID)
	if err != nil {
		return nil, err
	}
	status, err := gates.Decide(gate, requested)
	if err != nil {
		return nil, err
	}

	var at version.Version
	if status == types.GatePassed {
		at, err = s.bumpTx(ctx, tx, bumpArgs{
			component: version.ComponentMinor,
			reason:    fmt.Sprintf("quality gate passed for %s", gate.PhaseRef),
			phaseRef:  gate.PhaseRef,
			gateID:    gate.ID,
		})
	} else {
		at, err = readVersion(ctx, tx)
	}
	if err != nil {
		return nil, err
	}

	decidedAt := s.timestamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE quality_gates SET status = ?, version_at_decision = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`, status, at.String(), decidedAt, gateID, types.GatePending)
	if err != nil {
		return nil, storageErr("decide gate", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("%w: gate %s is no longer pending", types.ErrGateClosed, gateID)
	}

	from := gate.Status
	gate.Status = status
	gate.VersionAtDecision = at.String()
	gate.DecidedAt = &decidedAt

	logged, err := events.NewGateTransitionEvent(
		fmt.Sprintf("gate for %s %s at %s", gate.PhaseRef, status, at), events.GateTransitionData{
			GateID:      gate.ID,
			PhaseRef:    gate.PhaseRef,
			From:        string(from),
			To:          string(status),
			Version:     at.String(),
			Automated:   gate.TestsAutomated,
			Manual:      gate.TestsManual,
			Skipped:     gate.TestsSkipped,
			SkipReasons: len(gate.SkipReasons),
		})
	if err != nil {
		return nil, err
	}
	if err := s.logEvent(ctx, tx, logged); err != nil {
		return nil, err
	}
	return gate, nil
}

// TransitionGate opens (or reuses) the pending gate for the decision's phase,
// records the supplied results and decides it. Opening and recording commit
// first, so a rejected decision leaves the gate pending with its evidence.
func (s *SQLiteStorage) TransitionGate(ctx context.Context, d *types.GateDecision) (*types.QualityGate, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var gateID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		gate, err := s.openGateTx(ctx, tx, d.PhaseRef, d.PhaseNumber)
		if err != nil {
			return err
		}
		gateID = gate.ID
		_, err = s.recordResultsTx(ctx, tx, gate.ID, d.Results)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.DecideGate(ctx, gateID, d.Status)
}

// GetGate retrieves one gate record
func (s *SQLiteStorage) GetGate(ctx context.Context, id string) (*types.QualityGate, error) {
	return getGateTx(ctx, s.db, id)
}

// ListGates lists gate records, optionally for one phase, newest first
func (s *SQLiteStorage) ListGates(ctx context.Context, phaseRef string) ([]*types.QualityGate, error) {
	query := "SELECT " + gateColumns + " FROM quality_gates"
	args := []interface{}{}
	if phaseRef != "" {
		query += " WHERE phase_ref = ?"
		args = append(args, phaseRef)
	}
	query += " ORDER BY opened_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query gates", err)
	}
	defer rows.Close()

	var out []*types.QualityGate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gate: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func getGateTx(ctx context.Context, q querier, id string) (*types.QualityGate, error) {
	row := q.QueryRowContext(ctx, "SELECT "+gateColumns+" FROM quality_gates WHERE id = ?", id)
	g, err := scanGate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: gate %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get gate", err)
	}
	return g, nil
}

func scanGate(row rowScanner) (*types.QualityGate, error) {
	var g types.QualityGate
	var reasons string
	var perf int
	var decided sql.NullTime
	err := row.Scan(&g.ID, &g.PhaseRef, &g.PhaseNumber, &g.Status, &g.TestsAutomated, &g.TestsAutomatedPassing,
		&g.TestsManual, &g.TestsManualPassing, &g.TestsSkipped, &reasons, &g.DurationMinutes,
		&perf, &g.Notes, &g.Reviewer, &g.ReviewerType, &g.VersionAtDecision, &g.OpenedAt, &decided)
	if err != nil {
		return nil, err
	}
	g.PerformanceAcceptable = perf != 0
	if decided.Valid {
		t := decided.Time
		g.DecidedAt = &t
	}
	if reasons != "" && reasons != "[]" {
		if err := json.Unmarshal([]byte(reasons), &g.SkipReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal skip reasons: %w", err)
		}
	}
	return &g, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
