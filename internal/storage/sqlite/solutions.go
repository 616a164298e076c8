package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

const solutionColumns = "id, error_id, description, code_change_ref, applied_by, effectiveness, applied_at"

// RecordSolution links a fix to an error event, resolves the event, promotes
// the fix to its pattern's recommendation when effective enough, and bumps
// the patch version. All of it commits as one transaction.
func (s *SQLiteStorage) RecordSolution(ctx context.Context, sol *types.Solution) (*types.Solution, error) {
	if err := sol.Validate(); err != nil {
		return nil, err
	}
	sol.ID = uuid.New().String()
	if sol.AppliedAt.IsZero() {
		sol.AppliedAt = s.timestamp()
	}
	sol.AppliedAt = sol.AppliedAt.UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var hash string
		err := tx.QueryRowContext(ctx, "SELECT fingerprint_hash FROM error_events WHERE id = ?", sol.ErrorID).Scan(&hash)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: error event %d", types.ErrNotFound, sol.ErrorID)
		}
		if err != nil {
			return storageErr("look up error event", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO solutions (`+solutionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sol.ID, sol.ErrorID, sol.Description, sol.CodeChangeRef, sol.AppliedBy, sol.Effectiveness, sol.AppliedAt); err != nil {
			return storageErr("insert solution", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE error_events SET resolved = 1, solution_ref = ? WHERE id = ?", sol.ID, sol.ErrorID); err != nil {
			return storageErr("resolve error event", err)
		}

		logged := events.New(events.EventTypeSolutionRecorded, events.SeverityInfo, strconv.FormatInt(sol.ErrorID, 10),
			fmt.Sprintf("solution %s recorded (effectiveness %d, by %s)", sol.ID, sol.Effectiveness, sol.AppliedBy))
		logged.Data = map[string]interface{}{"solution_id": sol.ID, "effectiveness": sol.Effectiveness}
		if err := s.logEvent(ctx, tx, logged); err != nil {
			return err
		}

		if hash != types.UnknownSignature {
			if err := s.promoteSolution(ctx, tx, hash, sol); err != nil {
				return err
			}
			if err := touchPattern(ctx, tx, hash); err != nil {
				return err
			}
		}

		_, err = s.bumpTx(ctx, tx, bumpArgs{
			component: version.ComponentPatch,
			reason:    fmt.Sprintf("solution recorded for error %d", sol.ErrorID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return sol, nil
}

// promoteSolution makes sol the pattern's recommended fix when it reaches the
// threshold and is at least as effective as the current recommendation.
func (s *SQLiteStorage) promoteSolution(ctx context.Context, tx *sql.Tx, hash string, sol *types.Solution) error {
	if sol.Effectiveness < types.RecommendThreshold {
		return nil
	}

	var currentRef string
	if err := tx.QueryRowContext(ctx,
		"SELECT recommended_solution_ref FROM error_patterns WHERE fingerprint_hash = ?", hash).Scan(&currentRef); err != nil {
		return storageErr("read recommended solution", err)
	}
	if currentRef != "" && currentRef != sol.ID {
		var currentEff int
		err := tx.QueryRowContext(ctx, "SELECT effectiveness FROM solutions WHERE id = ?", currentRef).Scan(&currentEff)
		if err != nil && err != sql.ErrNoRows {
			return storageErr("read recommended solution", err)
		}
		if err == nil && currentEff > sol.Effectiveness {
			return nil
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE error_patterns SET recommended_solution_ref = ? WHERE fingerprint_hash = ?", sol.ID, hash); err != nil {
		return storageErr("promote solution", err)
	}
	logged := events.New(events.EventTypeSolutionPromoted, events.SeverityInfo, hash,
		fmt.Sprintf("solution %s is now recommended for pattern %s", sol.ID, hash))
	return s.logEvent(ctx, tx, logged)
}

// GetSolution retrieves one solution
func (s *SQLiteStorage) GetSolution(ctx context.Context, id string) (*types.Solution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+solutionColumns+" FROM solutions WHERE id = ?", id)
	sol, err := scanSolution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: solution %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get solution", err)
	}
	return sol, nil
}

// GetSolutions lists the solutions recorded for one error event, newest first
func (s *SQLiteStorage) GetSolutions(ctx context.Context, errorID int64) ([]types.Solution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+solutionColumns+" FROM solutions WHERE error_id = ? ORDER BY applied_at DESC", errorID)
	if err != nil {
		return nil, storageErr("query solutions", err)
	}
	return collectSolutions(rows)
}

// solutionsForPattern lists the best solutions recorded against any event
// sharing the fingerprint.
func (s *SQLiteStorage) solutionsForPattern(ctx context.Context, hash string, limit int) ([]types.Solution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.error_id, s.description, s.code_change_ref, s.applied_by, s.effectiveness, s.applied_at
		FROM solutions s
		JOIN error_events e ON e.id = s.error_id
		WHERE e.fingerprint_hash = ?
		ORDER BY s.effectiveness DESC, s.applied_at DESC
		LIMIT ?
	`, hash, limit)
	if err != nil {
		return nil, storageErr("query pattern solutions", err)
	}
	return collectSolutions(rows)
}

func collectSolutions(rows *sql.Rows) ([]types.Solution, error) {
	defer rows.Close()
	var out []types.Solution
	for rows.Next() {
		sol, err := scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		out = append(out, *sol)
	}
	return out, rows.Err()
}

func scanSolution(row rowScanner) (*types.Solution, error) {
	var sol types.Solution
	err := row.Scan(&sol.ID, &sol.ErrorID, &sol.Description, &sol.CodeChangeRef, &sol.AppliedBy, &sol.Effectiveness, &sol.AppliedAt)
	if err != nil {
		return nil, err
	}
	return &sol, nil
}
