package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/types"
)

const errorEventColumns = `
	id, timestamp, level, phase_ref, file_path, line_number, error_code,
	message, stack_trace, context, fingerprint_hash, resolved, solution_ref
`

// RecordError stores an error event, fingerprints its message and folds it
// into the matching pattern. On an exact miss the result carries fuzzy
// suggestions; on a hit it carries the solutions already known for the pattern.
func (s *SQLiteStorage) RecordError(ctx context.Context, ev *types.ErrorEvent) (*types.RecordErrorResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.Level == "" {
		ev.Level = types.LevelError
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.timestamp()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	hash, signature := fingerprint.Fingerprint(ev.Message)
	ev.FingerprintHash = hash
	ev.Resolved = false
	ev.SolutionRef = ""

	contextJSON := []byte("{}")
	if len(ev.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(ev.Context)
		if err != nil {
			return nil, types.Invalid("context", "cannot be encoded: %v", err)
		}
	}

	var recurring bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if !fingerprint.IsUnknown(hash) {
			prior, err := s.upsertPattern(ctx, tx, hash, signature, ev.Timestamp)
			if err != nil {
				return err
			}
			recurring = prior > 0
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO error_events (
				timestamp, level, phase_ref, file_path, line_number, error_code,
				message, stack_trace, context, fingerprint_hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.Timestamp, ev.Level, ev.PhaseRef, ev.FilePath, ev.LineNumber, ev.ErrorCode,
			ev.Message, ev.StackTrace, string(contextJSON), hash)
		if err != nil {
			return storageErr("insert error event", err)
		}
		ev.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get error event id: %w", err)
		}

		evType := events.EventTypeErrorRecorded
		if recurring {
			evType = events.EventTypePatternRecurring
		}
		severity := events.SeverityInfo
		if ev.Level == types.LevelCritical {
			severity = events.SeverityError
		}
		logged := events.New(evType, severity, strconv.FormatInt(ev.ID, 10),
			fmt.Sprintf("error recorded with fingerprint %s", hash))
		logged.Data = map[string]interface{}{"fingerprint_hash": hash, "phase_ref": ev.PhaseRef}
		return s.logEvent(ctx, tx, logged)
	})
	if err != nil {
		return nil, err
	}

	result := &types.RecordErrorResult{LocalID: ev.ID, IsRecurring: recurring}
	pattern, err := s.GetPattern(ctx, hash)
	if err != nil {
		return nil, err
	}
	result.Pattern = *pattern
	result.RemoteHint = pattern.RemoteHint

	if fingerprint.IsUnknown(hash) {
		return result, nil
	}

	if recurring {
		result.Solutions, err = s.solutionsForPattern(ctx, hash, 5)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	matches, err := s.rankPatterns(ctx, hash, signature, 0)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Exact {
			continue
		}
		sm, err := s.latestMatch(ctx, m)
		if err != nil {
			return nil, err
		}
		if sm != nil {
			result.Similar = append(result.Similar, *sm)
		}
	}
	return result, nil
}

// GetError retrieves a single error event
func (s *SQLiteStorage) GetError(ctx context.Context, id int64) (*types.ErrorEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+errorEventColumns+" FROM error_events WHERE id = ?", id)
	ev, err := scanErrorEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: error event %d", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get error event", err)
	}
	return ev, nil
}

// ListErrors returns error events matching the filter, newest first
func (s *SQLiteStorage) ListErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorEvent, error) {
	query := "SELECT " + errorEventColumns + " FROM error_events WHERE 1=1"
	args := []interface{}{}

	if filter.PhaseRef != "" {
		query += " AND phase_ref = ?"
		args = append(args, filter.PhaseRef)
	}
	if filter.FingerprintHash != "" {
		query += " AND fingerprint_hash = ?"
		args = append(args, filter.FingerprintHash)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if filter.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, boolToInt(*filter.Resolved))
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query error events", err)
	}
	defer rows.Close()

	var out []*types.ErrorEvent
	for rows.Next() {
		ev, err := scanErrorEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan error event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FindSimilar returns stored errors resembling text, best match first.
// An exact fingerprint hit scores 1.0; the remaining slots are filled by
// fuzzy matches at or above the similarity floor.
func (s *SQLiteStorage) FindSimilar(ctx context.Context, text string, limit int) ([]types.SimilarMatch, error) {
	hash, signature := fingerprint.Fingerprint(text)
	if fingerprint.IsUnknown(hash) {
		return nil, nil
	}
	matches, err := s.rankPatterns(ctx, hash, signature, limit)
	if err != nil {
		return nil, err
	}
	var out []types.SimilarMatch
	for _, m := range matches {
		sm, err := s.latestMatch(ctx, m)
		if err != nil {
			return nil, err
		}
		if sm != nil {
			out = append(out, *sm)
		}
	}
	return out, nil
}

// rankPatterns scores stored patterns against a query. The exact pattern is
// looked up by key; only the rest go through the fuzzy pass.
func (s *SQLiteStorage) rankPatterns(ctx context.Context, hash, signature string, limit int) ([]fingerprint.Match, error) {
	cfg := s.matcher.Config()
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint_hash, canonical_signature
		FROM error_patterns
		WHERE occurrence_count > 0 AND fingerprint_hash != ?
		ORDER BY last_seen DESC
		LIMIT ?
	`, types.UnknownSignature, cfg.CandidateCap)
	if err != nil {
		return nil, storageErr("query pattern candidates", err)
	}
	defer rows.Close()

	var candidates []fingerprint.Candidate
	for rows.Next() {
		var c fingerprint.Candidate
		if err := rows.Scan(&c.Hash, &c.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan pattern candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var exact *fingerprint.Candidate
	fuzzy := make([]fingerprint.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Hash == hash {
			c := c
			exact = &c
			continue
		}
		fuzzy = append(fuzzy, c)
	}
	if exact == nil {
		// Older than the candidate window but still stored
		var sig string
		err := s.db.QueryRowContext(ctx,
			"SELECT canonical_signature FROM error_patterns WHERE fingerprint_hash = ? AND occurrence_count > 0",
			hash).Scan(&sig)
		if err == nil {
			exact = &fingerprint.Candidate{Hash: hash, Signature: sig}
		} else if err != sql.ErrNoRows {
			return nil, storageErr("lookup pattern", err)
		}
	}

	limit = cfg.ClampLimit(limit)
	var out []fingerprint.Match
	if exact != nil {
		out = append(out, fingerprint.Match{Candidate: *exact, Score: 1.0, Exact: true})
		limit--
	}
	if limit > 0 {
		out = append(out, s.matcher.Rank(hash, signature, fuzzy, limit)...)
	}
	return out, nil
}

// latestMatch resolves a scored pattern to its most recent event
func (s *SQLiteStorage) latestMatch(ctx context.Context, m fingerprint.Match) (*types.SimilarMatch, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+errorEventColumns+" FROM error_events WHERE fingerprint_hash = ? ORDER BY id DESC LIMIT 1", m.Hash)
	ev, err := scanErrorEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get latest error for pattern", err)
	}
	pattern, err := s.GetPattern(ctx, m.Hash)
	if err != nil {
		return nil, err
	}
	return &types.SimilarMatch{Event: *ev, Pattern: *pattern, Score: m.Score, Exact: m.Exact}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanErrorEvent(row rowScanner) (*types.ErrorEvent, error) {
	var ev types.ErrorEvent
	var contextJSON string
	var resolved int
	err := row.Scan(&ev.ID, &ev.Timestamp, &ev.Level, &ev.PhaseRef, &ev.FilePath, &ev.LineNumber,
		&ev.ErrorCode, &ev.Message, &ev.StackTrace, &contextJSON, &ev.FingerprintHash, &resolved, &ev.SolutionRef)
	if err != nil {
		return nil, err
	}
	ev.Resolved = resolved != 0
	if contextJSON != "" && contextJSON != "{}" {
		if err := json.Unmarshal([]byte(contextJSON), &ev.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error context: %w", err)
		}
	}
	return &ev, nil
}
