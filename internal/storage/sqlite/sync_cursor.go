package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/types"
)

// PendingBatch returns up to limit anonymized pattern aggregates changed after
// afterSeq, in watermark order. Raw messages, stack traces and paths never
// leave this query: only the canonical signature, counts and effectiveness
// statistics do.
func (s *SQLiteStorage) PendingBatch(ctx context.Context, afterSeq int64, limit int) (*types.SyncBatch, error) {
	if limit <= 0 {
		limit = 100
	}

	batch := &types.SyncBatch{}
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM error_events").Scan(&batch.MaxEventID); err != nil {
		return nil, storageErr("read max error id", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.change_seq, p.fingerprint_hash, p.canonical_signature, p.occurrence_count,
		       COUNT(sol.id), COALESCE(AVG(sol.effectiveness), 0),
		       COALESCE(MIN(sol.effectiveness), 0), COALESCE(MAX(sol.effectiveness), 0)
		FROM error_patterns p
		LEFT JOIN error_events e ON e.fingerprint_hash = p.fingerprint_hash
		LEFT JOIN solutions sol ON sol.error_id = e.id
		WHERE p.change_seq > ? AND p.fingerprint_hash != ? AND p.occurrence_count > 0
		GROUP BY p.fingerprint_hash
		ORDER BY p.change_seq ASC
		LIMIT ?
	`, afterSeq, types.UnknownSignature, limit)
	if err != nil {
		return nil, storageErr("query pending patterns", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pa types.PatternAggregate
		if err := rows.Scan(&pa.Seq, &pa.FingerprintHash, &pa.CanonicalSignature, &pa.OccurrenceCount,
			&pa.Effectiveness.Count, &pa.Effectiveness.Mean, &pa.Effectiveness.Min, &pa.Effectiveness.Max); err != nil {
			return nil, fmt.Errorf("failed to scan pattern aggregate: %w", err)
		}
		batch.Patterns = append(batch.Patterns, pa)
		batch.MaxSeq = pa.Seq
		batch.LastHash = pa.FingerprintHash
	}
	return batch, rows.Err()
}

// SyncBacklog counts patterns changed since the last acknowledged push
func (s *SQLiteStorage) SyncBacklog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM error_patterns
		WHERE change_seq > (SELECT last_pushed_seq FROM sync_cursor WHERE id = 1)
		  AND fingerprint_hash != ? AND occurrence_count > 0
	`, types.UnknownSignature).Scan(&n)
	if err != nil {
		return 0, storageErr("count sync backlog", err)
	}
	return n, nil
}

// GetSyncCursor returns the persisted sync cursor
func (s *SQLiteStorage) GetSyncCursor(ctx context.Context) (*types.SyncCursor, error) {
	return getCursor(ctx, s.db)
}

func getCursor(ctx context.Context, q querier) (*types.SyncCursor, error) {
	var c types.SyncCursor
	var pulled, pushed sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT last_pushed_event_id, last_pushed_pattern_hash, last_pushed_seq,
		       last_pull_timestamp, last_pull_hash, pending_retry_count, last_push_at, last_error
		FROM sync_cursor WHERE id = 1
	`).Scan(&c.LastPushedEventID, &c.LastPushedPatternHash, &c.LastPushedSeq,
		&pulled, &c.LastPullHash, &c.PendingRetryCount, &pushed, &c.LastError)
	if err != nil {
		return nil, storageErr("read sync cursor", err)
	}
	if pulled.Valid {
		t := pulled.Time
		c.LastPullTimestamp = &t
	}
	if pushed.Valid {
		t := pushed.Time
		c.LastPushAt = &t
	}
	return &c, nil
}

// AckPush advances the cursor after the aggregator acknowledged a batch and
// clears the retry backlog. The watermark never moves backwards.
func (s *SQLiteStorage) AckPush(ctx context.Context, ack types.PushAck) (*types.SyncCursor, error) {
	var cursor *types.SyncCursor
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getCursor(ctx, tx)
		if err != nil {
			return err
		}
		seq, hash, eventID := cur.LastPushedSeq, cur.LastPushedPatternHash, cur.LastPushedEventID
		if ack.Seq > seq {
			seq, hash = ack.Seq, ack.PatternHash
		}
		if ack.EventID > eventID {
			eventID = ack.EventID
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_cursor SET
				last_pushed_seq = ?, last_pushed_pattern_hash = ?, last_pushed_event_id = ?,
				pending_retry_count = 0, last_push_at = ?, last_error = ''
			WHERE id = 1
		`, seq, hash, eventID, s.timestamp()); err != nil {
			return storageErr("advance sync cursor", err)
		}

		logged, err := events.NewSyncEvent(events.EventTypeSyncPushed, events.SeverityInfo,
			fmt.Sprintf("pushed %d patterns up to watermark %d", ack.Pushed, seq),
			events.SyncData{Pushed: ack.Pushed, Duplicates: ack.Duplicates, Conflicts: ack.Conflicts, Watermark: seq})
		if err != nil {
			return err
		}
		if err := s.logEvent(ctx, tx, logged); err != nil {
			return err
		}
		cursor, err = getCursor(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// RecordSyncFailure notes a batch that exhausted its retries. The watermark
// stays put so the same patterns are offered again on the next attempt.
func (s *SQLiteStorage) RecordSyncFailure(ctx context.Context, cause error, attempts int) (*types.SyncCursor, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var cursor *types.SyncCursor
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_cursor SET pending_retry_count = pending_retry_count + 1, last_error = ?
			WHERE id = 1
		`, msg); err != nil {
			return storageErr("record sync failure", err)
		}
		logged, err := events.NewSyncEvent(events.EventTypeSyncFailed, events.SeverityWarning,
			"push deferred after retries were exhausted", events.SyncData{Attempts: attempts, Error: msg})
		if err != nil {
			return err
		}
		if err := s.logEvent(ctx, tx, logged); err != nil {
			return err
		}
		cursor, err = getCursor(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cursor, nil
}
