package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nebula-protocol/nebula/internal/types"
)

const patternSelect = `
	SELECT p.fingerprint_hash, p.canonical_signature, p.occurrence_count,
	       p.first_seen, p.last_seen, p.recommended_solution_ref,
	       k.fingerprint_hash, k.canonical_signature, k.source, k.global_occurrence_count,
	       k.project_count, k.avg_effectiveness, k.suggested_solution,
	       k.suggested_solution_ref, k.updated_at
	FROM error_patterns p
	LEFT JOIN known_patterns k ON k.fingerprint_hash = p.fingerprint_hash
`

// upsertPattern creates or increments the pattern for hash and returns the
// occurrence count it had before this event.
func (s *SQLiteStorage) upsertPattern(ctx context.Context, tx *sql.Tx, hash, signature string, seen time.Time) (int, error) {
	var prior int
	err := tx.QueryRowContext(ctx,
		"SELECT occurrence_count FROM error_patterns WHERE fingerprint_hash = ?", hash).Scan(&prior)
	if err != nil && err != sql.ErrNoRows {
		return 0, storageErr("read pattern", err)
	}

	seq, err := nextChangeSeq(ctx, tx)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO error_patterns (
			fingerprint_hash, canonical_signature, occurrence_count, first_seen, last_seen, change_seq
		) VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(fingerprint_hash) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen = MAX(last_seen, excluded.last_seen),
			change_seq = excluded.change_seq
	`, hash, signature, seen, seen, seq)
	if err != nil {
		return 0, storageErr("upsert pattern", err)
	}
	return prior, nil
}

// nextChangeSeq returns the next sync watermark value. Only called with the
// write lock held, so MAX+1 cannot race.
func nextChangeSeq(ctx context.Context, q querier) (int64, error) {
	var seq int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(change_seq), 0) + 1 FROM error_patterns").Scan(&seq); err != nil {
		return 0, storageErr("allocate change sequence", err)
	}
	return seq, nil
}

// touchPattern marks a pattern as changed for sync without altering its counts
func touchPattern(ctx context.Context, tx *sql.Tx, hash string) error {
	if hash == types.UnknownSignature {
		return nil
	}
	seq, err := nextChangeSeq(ctx, tx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE error_patterns SET change_seq = ? WHERE fingerprint_hash = ?", seq, hash); err != nil {
		return storageErr("touch pattern", err)
	}
	return nil
}

// GetPattern retrieves one pattern with its remote hint, if any
func (s *SQLiteStorage) GetPattern(ctx context.Context, hash string) (*types.ErrorPattern, error) {
	row := s.db.QueryRowContext(ctx, patternSelect+" WHERE p.fingerprint_hash = ?", hash)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %s", types.ErrNotFound, hash)
	}
	if err != nil {
		return nil, storageErr("get pattern", err)
	}
	return p, nil
}

// GetPatterns lists patterns seen at least minOccurrences times, most
// frequent first. The empty-message sentinel is never listed.
func (s *SQLiteStorage) GetPatterns(ctx context.Context, minOccurrences int) ([]*types.ErrorPattern, error) {
	if minOccurrences < 1 {
		minOccurrences = 1
	}
	rows, err := s.db.QueryContext(ctx, patternSelect+`
		WHERE p.occurrence_count >= ? AND p.fingerprint_hash != ?
		ORDER BY p.occurrence_count DESC, p.last_seen DESC
	`, minOccurrences, types.UnknownSignature)
	if err != nil {
		return nil, storageErr("query patterns", err)
	}
	defer rows.Close()

	var out []*types.ErrorPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPattern(row rowScanner) (*types.ErrorPattern, error) {
	var p types.ErrorPattern
	var (
		kHash, kSig, kSource, kSolution, kSolutionRef sql.NullString
		kGlobal, kProjects                            sql.NullInt64
		kEff                                          sql.NullFloat64
		kUpdated                                      sql.NullTime
	)
	err := row.Scan(&p.FingerprintHash, &p.CanonicalSignature, &p.OccurrenceCount,
		&p.FirstSeen, &p.LastSeen, &p.RecommendedSolutionRef,
		&kHash, &kSig, &kSource, &kGlobal, &kProjects, &kEff, &kSolution, &kSolutionRef, &kUpdated)
	if err != nil {
		return nil, err
	}
	if kHash.Valid {
		p.RemoteHint = &types.KnownPattern{
			FingerprintHash:       kHash.String,
			CanonicalSignature:    kSig.String,
			Source:                kSource.String,
			GlobalOccurrenceCount: int(kGlobal.Int64),
			ProjectCount:          int(kProjects.Int64),
			AvgEffectiveness:      kEff.Float64,
			SuggestedSolution:     kSolution.String,
			SuggestedSolutionRef:  kSolutionRef.String,
			UpdatedAt:             kUpdated.Time,
		}
	}
	return &p, nil
}
