package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nebula-protocol/nebula/internal/events"
)

// logEvent appends an activity log entry inside an open transaction
func (s *SQLiteStorage) logEvent(ctx context.Context, q querier, event *events.MemoryEvent) error {
	if event == nil {
		return nil
	}
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if event.Data == nil {
		dataJSON = []byte("{}")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO memory_events (id, type, timestamp, severity, subject, message, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Type, event.Timestamp.UTC(), event.Severity, event.Subject, event.Message, string(dataJSON))
	if err != nil {
		return storageErr(fmt.Sprintf("store event (type=%s)", event.Type), err)
	}
	return nil
}

// StoreEvent appends an event outside of any other change
func (s *SQLiteStorage) StoreEvent(ctx context.Context, event *events.MemoryEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.logEvent(ctx, tx, event)
	})
}

// GetEvents retrieves events matching the given filter, newest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter events.EventFilter) ([]*events.MemoryEvent, error) {
	query := `
		SELECT id, type, timestamp, severity, subject, message, data
		FROM memory_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	if !filter.AfterTime.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.AfterTime.UTC())
	}

	query += " ORDER BY seq DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query events", err)
	}
	defer rows.Close()

	var result []*events.MemoryEvent
	for rows.Next() {
		var ev events.MemoryEvent
		var dataJSON string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Timestamp, &ev.Severity, &ev.Subject, &ev.Message, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if dataJSON != "" && dataJSON != "{}" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		result = append(result, &ev)
	}
	return result, rows.Err()
}

// RecentEvents returns the newest limit events
func (s *SQLiteStorage) RecentEvents(ctx context.Context, limit int) ([]*events.MemoryEvent, error) {
	return s.GetEvents(ctx, events.EventFilter{Limit: limit})
}

// PruneEvents trims the activity log. Non-critical events older than cutoff
// and critical events older than criticalCutoff are deleted, then the newest
// globalLimit events are kept (0 = no limit). It returns the rows removed.
func (s *SQLiteStorage) PruneEvents(ctx context.Context, cutoff, criticalCutoff time.Time, globalLimit int) (int, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM memory_events WHERE timestamp < ? AND severity != ?", cutoff.UTC(), events.SeverityCritical)
		if err != nil {
			return storageErr("prune events by age", err)
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.ExecContext(ctx, "DELETE FROM memory_events WHERE timestamp < ?", criticalCutoff.UTC())
		if err != nil {
			return storageErr("prune critical events by age", err)
		}
		n, _ = res.RowsAffected()
		removed += n

		if globalLimit > 0 {
			res, err = tx.ExecContext(ctx, `
				DELETE FROM memory_events WHERE seq NOT IN (
					SELECT seq FROM memory_events ORDER BY seq DESC LIMIT ?
				)
			`, globalLimit)
			if err != nil {
				return storageErr("prune events over limit", err)
			}
			n, _ = res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}
