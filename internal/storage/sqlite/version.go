package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

type bumpArgs struct {
	component version.Component
	reason    string
	reset     bool
	phaseRef  string // guards minor bumps, one per phase
	gateID    string
}

// GetVersion returns the current version with its full history, oldest
// first. State and history are read in one transaction so a concurrent bump
// is seen entirely or not at all.
func (s *SQLiteStorage) GetVersion(ctx context.Context) (*types.VersionState, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, storageErr("begin read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := readVersionState(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("finish read transaction", err)
	}
	return st, nil
}

func readVersionState(ctx context.Context, q querier) (*types.VersionState, error) {
	var st types.VersionState
	err := q.QueryRowContext(ctx,
		"SELECT major, minor, patch, last_bump_reason, updated_at FROM version_state WHERE id = 1").
		Scan(&st.Major, &st.Minor, &st.Patch, &st.LastBumpReason, &st.UpdatedAt)
	if err != nil {
		return nil, storageErr("read version", err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT version, timestamp, event, reason, phase_ref FROM version_history ORDER BY id ASC")
	if err != nil {
		return nil, storageErr("read version history", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h types.VersionHistoryEntry
		if err := rows.Scan(&h.Version, &h.Timestamp, &h.Event, &h.Reason, &h.PhaseRef); err != nil {
			return nil, fmt.Errorf("failed to scan version history: %w", err)
		}
		st.History = append(st.History, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read version history", err)
	}
	return &st, nil
}

// BumpVersion applies a manual bump. Major bumps need a reason and are never
// deduplicated; a minor bump with a PhaseRef is rejected with
// ErrDuplicateGateBump if that phase was already bumped.
func (s *SQLiteStorage) BumpVersion(ctx context.Context, component version.Component, reason string, opts version.BumpOptions) (*types.VersionState, error) {
	if err := version.ValidateBumpRequest(component, reason); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = fmt.Sprintf("manual %s bump", component)
	}
	var st *types.VersionState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.bumpTx(ctx, tx, bumpArgs{
			component: component,
			reason:    reason,
			reset:     opts.Reset,
			phaseRef:  opts.PhaseRef,
		})
		if err != nil {
			return err
		}
		st, err = readVersionState(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// SetVersion sets the version explicitly. Lowering it requires force.
func (s *SQLiteStorage) SetVersion(ctx context.Context, target version.Version, reason string, force bool) (*types.VersionState, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, types.Invalid("reason", "is required to set the version")
	}
	var st *types.VersionState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := readVersion(ctx, tx)
		if err != nil {
			return err
		}
		if err := version.CheckSet(cur, target, force); err != nil {
			return err
		}
		forced := target.Less(cur)
		if err := s.writeVersion(ctx, tx, cur, target, types.VersionEventSet, reason, "", forced); err != nil {
			return err
		}
		st, err = readVersionState(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// bumpTx applies one bump inside tx and returns the new version
func (s *SQLiteStorage) bumpTx(ctx context.Context, tx *sql.Tx, a bumpArgs) (version.Version, error) {
	cur, err := readVersion(ctx, tx)
	if err != nil {
		return version.Version{}, err
	}
	next, err := cur.Next(a.component, a.reset)
	if err != nil {
		return version.Version{}, err
	}

	if a.component == version.ComponentMinor && a.phaseRef != "" {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO gate_bumps (phase_ref, gate_id, version, bumped_at) VALUES (?, ?, ?, ?)",
			a.phaseRef, a.gateID, next.String(), s.timestamp())
		if isUniqueConstraintError(err) {
			return version.Version{}, fmt.Errorf("%w: phase %s already bumped the minor version", types.ErrDuplicateGateBump, a.phaseRef)
		}
		if err != nil {
			return version.Version{}, storageErr("record gate bump", err)
		}
	}

	if err := s.writeVersion(ctx, tx, cur, next, types.VersionEvent(a.component), a.reason, a.phaseRef, false); err != nil {
		return version.Version{}, err
	}
	return next, nil
}

func (s *SQLiteStorage) writeVersion(ctx context.Context, tx *sql.Tx, from, to version.Version, event types.VersionEvent, reason, phaseRef string, forced bool) error {
	now := s.timestamp()
	if _, err := tx.ExecContext(ctx, `
		UPDATE version_state SET major = ?, minor = ?, patch = ?, last_bump_reason = ?, updated_at = ?
		WHERE id = 1
	`, to.Major, to.Minor, to.Patch, reason, now); err != nil {
		return storageErr("update version", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO version_history (version, event, reason, phase_ref, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, to.String(), event, reason, phaseRef, now); err != nil {
		return storageErr("append version history", err)
	}

	evType := events.EventTypeVersionBumped
	if event == types.VersionEventSet {
		evType = events.EventTypeVersionSet
	}
	logged, err := events.NewVersionEvent(evType, fmt.Sprintf("version %s -> %s (%s)", from, to, event), events.VersionChangeData{
		From:     from.String(),
		To:       to.String(),
		Event:    string(event),
		Reason:   reason,
		PhaseRef: phaseRef,
		Forced:   forced,
	})
	if err != nil {
		return err
	}
	return s.logEvent(ctx, tx, logged)
}

func readVersion(ctx context.Context, q querier) (version.Version, error) {
	var v version.Version
	err := q.QueryRowContext(ctx, "SELECT major, minor, patch FROM version_state WHERE id = 1").
		Scan(&v.Major, &v.Minor, &v.Patch)
	if err != nil {
		return version.Version{}, storageErr("read version", err)
	}
	return v, nil
}
