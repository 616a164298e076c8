package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/types"
)

const knownColumns = `
	fingerprint_hash, canonical_signature, source, global_occurrence_count, project_count,
	avg_effectiveness, suggested_solution, suggested_solution_ref, updated_at
`

// MergeKnownPatterns upserts patterns learned outside the project and returns
// how many were new. Local pattern counts are never touched: a matching local
// pattern only gains the entry as its remote hint.
//
// When pulled is set the sync cursor's pull position advances in the same
// transaction.
func (s *SQLiteStorage) MergeKnownPatterns(ctx context.Context, patterns []types.KnownPattern, pulled *types.PullPosition) (int, error) {
	added := 0
	sources := map[string]int{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		for _, kp := range patterns {
			if strings.TrimSpace(kp.CanonicalSignature) == "" {
				continue
			}
			// Seeds carry raw signatures; normalize so they key like local patterns.
			if kp.FingerprintHash == "" {
				kp.FingerprintHash, kp.CanonicalSignature = fingerprint.Fingerprint(kp.CanonicalSignature)
			}
			if fingerprint.IsUnknown(kp.FingerprintHash) {
				continue
			}
			if kp.Source == "" {
				kp.Source = types.SourceCentral
			}
			if kp.UpdatedAt.IsZero() {
				kp.UpdatedAt = now
			}

			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM known_patterns WHERE fingerprint_hash = ?", kp.FingerprintHash).Scan(&exists)
			if err != nil && err != sql.ErrNoRows {
				return storageErr("look up known pattern", err)
			}
			if err == sql.ErrNoRows {
				added++
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO known_patterns (`+knownColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(fingerprint_hash) DO UPDATE SET
					canonical_signature = excluded.canonical_signature,
					source = excluded.source,
					global_occurrence_count = MAX(global_occurrence_count, excluded.global_occurrence_count),
					project_count = MAX(project_count, excluded.project_count),
					avg_effectiveness = excluded.avg_effectiveness,
					suggested_solution = CASE WHEN excluded.suggested_solution != '' THEN excluded.suggested_solution ELSE suggested_solution END,
					suggested_solution_ref = CASE WHEN excluded.suggested_solution_ref != '' THEN excluded.suggested_solution_ref ELSE suggested_solution_ref END,
					updated_at = excluded.updated_at
			`, kp.FingerprintHash, kp.CanonicalSignature, kp.Source, kp.GlobalOccurrenceCount, kp.ProjectCount,
				kp.AvgEffectiveness, kp.SuggestedSolution, kp.SuggestedSolutionRef, kp.UpdatedAt.UTC()); err != nil {
				return storageErr("upsert known pattern", err)
			}
			sources[kp.Source]++
		}

		if pulled != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE sync_cursor SET last_pull_timestamp = ?, last_pull_hash = ? WHERE id = 1",
				pulled.UpdatedAt.UTC(), pulled.FingerprintHash); err != nil {
				return storageErr("advance pull cursor", err)
			}
		}

		evType := events.EventTypeSyncPulled
		for src := range sources {
			if strings.HasPrefix(src, types.SourceSeedPrefix) {
				evType = events.EventTypeSeedLoaded
			}
		}
		logged, err := events.NewSyncEvent(evType, events.SeverityInfo,
			fmt.Sprintf("merged %d known patterns (%d new)", len(patterns), added),
			events.SyncData{Pulled: added})
		if err != nil {
			return err
		}
		return s.logEvent(ctx, tx, logged)
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// GetKnownPattern retrieves one catalogue entry
func (s *SQLiteStorage) GetKnownPattern(ctx context.Context, hash string) (*types.KnownPattern, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+knownColumns+" FROM known_patterns WHERE fingerprint_hash = ?", hash)
	kp, err := scanKnown(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: known pattern %s", types.ErrNotFound, hash)
	}
	if err != nil {
		return nil, storageErr("get known pattern", err)
	}
	return kp, nil
}

// ListKnownPatterns lists catalogue entries, most widespread first. An empty
// source lists all of them.
func (s *SQLiteStorage) ListKnownPatterns(ctx context.Context, source string, limit int) ([]*types.KnownPattern, error) {
	query := "SELECT " + knownColumns + " FROM known_patterns"
	args := []interface{}{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY global_occurrence_count DESC, fingerprint_hash"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query known patterns", err)
	}
	defer rows.Close()

	var out []*types.KnownPattern
	for rows.Next() {
		kp, err := scanKnown(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan known pattern: %w", err)
		}
		out = append(out, kp)
	}
	return out, rows.Err()
}

func scanKnown(row rowScanner) (*types.KnownPattern, error) {
	var kp types.KnownPattern
	err := row.Scan(&kp.FingerprintHash, &kp.CanonicalSignature, &kp.Source, &kp.GlobalOccurrenceCount,
		&kp.ProjectCount, &kp.AvgEffectiveness, &kp.SuggestedSolution, &kp.SuggestedSolutionRef, &kp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &kp, nil
}
