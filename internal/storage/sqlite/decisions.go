package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/types"
)

// RecordDecision stores a decision and returns its ID
func (s *SQLiteStorage) RecordDecision(ctx context.Context, d *types.Decision) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	d.ID = uuid.New().String()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.timestamp()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	alternatives, err := json.Marshal(nonNil(d.Alternatives))
	if err != nil {
		return "", fmt.Errorf("failed to marshal alternatives: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (id, phase_ref, category, question, chosen_option, alternatives, rationale, made_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.PhaseRef, d.Category, d.Question, d.ChosenOption, string(alternatives), d.Rationale, d.MadeBy, d.CreatedAt); err != nil {
			return storageErr("insert decision", err)
		}
		logged := events.New(events.EventTypeDecisionRecorded, events.SeverityInfo, d.ID,
			fmt.Sprintf("%s decision: %s", d.Category, d.ChosenOption))
		return s.logEvent(ctx, tx, logged)
	})
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

// ListDecisions lists decisions, optionally for one phase, newest first
func (s *SQLiteStorage) ListDecisions(ctx context.Context, phaseRef string, limit int) ([]*types.Decision, error) {
	query := `
		SELECT id, phase_ref, category, question, chosen_option, alternatives, rationale, made_by, created_at
		FROM decisions
	`
	args := []interface{}{}
	if phaseRef != "" {
		query += " WHERE phase_ref = ?"
		args = append(args, phaseRef)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query decisions", err)
	}
	defer rows.Close()

	var out []*types.Decision
	for rows.Next() {
		var d types.Decision
		var alternatives string
		if err := rows.Scan(&d.ID, &d.PhaseRef, &d.Category, &d.Question, &d.ChosenOption,
			&alternatives, &d.Rationale, &d.MadeBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if alternatives != "" && alternatives != "[]" {
			if err := json.Unmarshal([]byte(alternatives), &d.Alternatives); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alternatives: %w", err)
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
