package sqlite

import "github.com/nebula-protocol/nebula/internal/storage/migrations"

// schemaMigrations builds a project store from scratch. Version 1 carries the
// core entities; later versions add the cross-project catalogue, the
// activity log and the pull tie-breaker.
var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "core project memory tables",
		Up: `
-- Patterns must exist before the events that reference them
CREATE TABLE IF NOT EXISTS error_patterns (
    fingerprint_hash TEXT PRIMARY KEY,
    canonical_signature TEXT NOT NULL,
    occurrence_count INTEGER NOT NULL DEFAULT 0 CHECK (occurrence_count >= 0),
    first_seen DATETIME NOT NULL,
    last_seen DATETIME NOT NULL,
    recommended_solution_ref TEXT NOT NULL DEFAULT '',
    change_seq INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_error_patterns_change_seq ON error_patterns(change_seq);
CREATE INDEX IF NOT EXISTS idx_error_patterns_last_seen ON error_patterns(last_seen);

-- Empty messages all land on this row; it is never counted or synced
INSERT OR IGNORE INTO error_patterns (fingerprint_hash, canonical_signature, occurrence_count, first_seen, last_seen)
VALUES ('unknown', 'unknown', 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);

CREATE TABLE IF NOT EXISTS error_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    level TEXT NOT NULL DEFAULT 'ERROR' CHECK (level IN ('ERROR', 'CRITICAL')),
    phase_ref TEXT NOT NULL DEFAULT '',
    file_path TEXT NOT NULL DEFAULT '',
    line_number INTEGER NOT NULL DEFAULT 0,
    error_code TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    stack_trace TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '{}',
    fingerprint_hash TEXT NOT NULL REFERENCES error_patterns(fingerprint_hash),
    resolved INTEGER NOT NULL DEFAULT 0,
    solution_ref TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_error_events_fingerprint ON error_events(fingerprint_hash);
CREATE INDEX IF NOT EXISTS idx_error_events_timestamp ON error_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_error_events_phase ON error_events(phase_ref);

CREATE TABLE IF NOT EXISTS solutions (
    id TEXT PRIMARY KEY,
    error_id INTEGER NOT NULL REFERENCES error_events(id),
    description TEXT NOT NULL,
    code_change_ref TEXT NOT NULL DEFAULT '',
    applied_by TEXT NOT NULL CHECK (applied_by IN ('ai', 'human')),
    effectiveness INTEGER NOT NULL CHECK (effectiveness BETWEEN 1 AND 5),
    applied_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_solutions_error ON solutions(error_id);

CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    phase_ref TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    question TEXT NOT NULL,
    chosen_option TEXT NOT NULL,
    alternatives TEXT NOT NULL DEFAULT '[]',
    rationale TEXT NOT NULL DEFAULT '',
    made_by TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_phase ON decisions(phase_ref);

CREATE TABLE IF NOT EXISTS quality_gates (
    id TEXT PRIMARY KEY,
    phase_ref TEXT NOT NULL,
    phase_number INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'passed', 'failed', 'skipped')),
    tests_automated INTEGER NOT NULL DEFAULT 0,
    tests_automated_passing INTEGER NOT NULL DEFAULT 0,
    tests_manual INTEGER NOT NULL DEFAULT 0,
    tests_manual_passing INTEGER NOT NULL DEFAULT 0,
    tests_skipped INTEGER NOT NULL DEFAULT 0,
    skip_reasons TEXT NOT NULL DEFAULT '[]',
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    performance_acceptable INTEGER NOT NULL DEFAULT 0,
    notes TEXT NOT NULL DEFAULT '',
    reviewer TEXT NOT NULL DEFAULT '',
    reviewer_type TEXT NOT NULL DEFAULT '',
    version_at_decision TEXT NOT NULL DEFAULT '',
    opened_at DATETIME NOT NULL,
    decided_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_quality_gates_phase ON quality_gates(phase_ref, status);

CREATE TABLE IF NOT EXISTS version_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    major INTEGER NOT NULL,
    minor INTEGER NOT NULL,
    patch INTEGER NOT NULL,
    last_bump_reason TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);

INSERT OR IGNORE INTO version_state (id, major, minor, patch, last_bump_reason, updated_at)
VALUES (1, 0, 0, 1, 'initial version', CURRENT_TIMESTAMP);

CREATE TABLE IF NOT EXISTS version_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL,
    event TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    phase_ref TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL
);

-- One minor bump per phase
CREATE TABLE IF NOT EXISTS gate_bumps (
    phase_ref TEXT PRIMARY KEY,
    gate_id TEXT NOT NULL,
    version TEXT NOT NULL,
    bumped_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_cursor (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_pushed_event_id INTEGER NOT NULL DEFAULT 0,
    last_pushed_pattern_hash TEXT NOT NULL DEFAULT '',
    last_pushed_seq INTEGER NOT NULL DEFAULT 0,
    last_pull_timestamp DATETIME,
    pending_retry_count INTEGER NOT NULL DEFAULT 0,
    last_push_at DATETIME,
    last_error TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO sync_cursor (id) VALUES (1);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "known pattern catalogue",
		Up: `
CREATE TABLE IF NOT EXISTS known_patterns (
    fingerprint_hash TEXT PRIMARY KEY,
    canonical_signature TEXT NOT NULL,
    source TEXT NOT NULL,
    global_occurrence_count INTEGER NOT NULL DEFAULT 0,
    project_count INTEGER NOT NULL DEFAULT 0,
    avg_effectiveness REAL NOT NULL DEFAULT 0,
    suggested_solution TEXT NOT NULL DEFAULT '',
    suggested_solution_ref TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_known_patterns_source ON known_patterns(source);
`,
	},
	{
		Version:     3,
		Description: "activity log",
		Up: `
CREATE TABLE IF NOT EXISTS memory_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    severity TEXT NOT NULL CHECK (severity IN ('info', 'warning', 'error', 'critical')),
    subject TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_memory_events_timestamp ON memory_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_memory_events_type ON memory_events(type);
`,
	},
	{
		Version:     4,
		Description: "pull cursor tie-breaker",
		Up: `
ALTER TABLE sync_cursor ADD COLUMN last_pull_hash TEXT NOT NULL DEFAULT '';
`,
	},
}
