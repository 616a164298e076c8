package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// GetStatistics returns aggregate counts for the project
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	st := &types.Statistics{
		SolutionsByApplier: map[string]int{},
		GatesByStatus:      map[string]int{},
	}
	dayAgo := s.timestamp().Add(-24 * time.Hour)

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(resolved), 0),
		       COALESCE(SUM(CASE WHEN level = 'CRITICAL' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0)
		FROM error_events
	`, dayAgo).Scan(&st.TotalErrors, &st.ResolvedErrors, &st.CriticalErrors, &st.ErrorsLast24h)
	if err != nil {
		return nil, storageErr("count errors", err)
	}
	st.UnresolvedErrors = st.TotalErrors - st.ResolvedErrors

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN occurrence_count > 1 THEN 1 ELSE 0 END), 0)
		FROM error_patterns
		WHERE fingerprint_hash != ? AND occurrence_count > 0
	`, types.UnknownSignature).Scan(&st.DistinctPatterns, &st.RecurringPatterns)
	if err != nil {
		return nil, storageErr("count patterns", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM known_patterns").Scan(&st.KnownPatterns); err != nil {
		return nil, storageErr("count known patterns", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(effectiveness), 0),
		       COALESCE(AVG(CASE WHEN applied_by = 'ai' THEN effectiveness END), 0)
		FROM solutions
	`).Scan(&st.TotalSolutions, &st.AvgEffectiveness, &st.AIEffectiveness)
	if err != nil {
		return nil, storageErr("count solutions", err)
	}

	if err := s.groupCounts(ctx, "SELECT applied_by, COUNT(*) FROM solutions GROUP BY applied_by", st.SolutionsByApplier); err != nil {
		return nil, err
	}
	if err := s.groupCounts(ctx, "SELECT status, COUNT(*) FROM quality_gates GROUP BY status", st.GatesByStatus); err != nil {
		return nil, err
	}
	st.MilestonesCompleted = st.GatesByStatus[string(types.GatePassed)]

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions").Scan(&st.TotalDecisions); err != nil {
		return nil, storageErr("count decisions", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_events WHERE timestamp >= ?", dayAgo).Scan(&st.DailyVelocity); err != nil {
		return nil, storageErr("count recent activity", err)
	}

	milestones := st.MilestonesCompleted
	if milestones < 1 {
		milestones = 1
	}
	st.QualityRatio = float64(st.TotalErrors) / float64(milestones)

	v, err := readVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	st.Version = v.String()

	st.SyncBacklog, err = s.SyncBacklog(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStorage) groupCounts(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return storageErr("group counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

// CurrentVersion is a cheap read of the version triple without history
func (s *SQLiteStorage) CurrentVersion(ctx context.Context) (version.Version, error) {
	return readVersion(ctx, s.db)
}
