package sqlite

// schema holds the DDL, one statement per entry. Timestamps are stored
// as fixed-width RFC 3339 TEXT so lexicographic order matches time
// order; list and map fields are stored as JSON TEXT.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS spindle_events (
		id              TEXT PRIMARY KEY,
		aggregate_id    TEXT NOT NULL,
		aggregate_type  TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		data            TEXT,
		metadata        TEXT,
		version         INTEGER NOT NULL,
		causation_id    TEXT,
		correlation_id  TEXT,
		source          TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		recorded_at     TEXT NOT NULL,
		UNIQUE (aggregate_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_events_user
		ON spindle_events (user_id, recorded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_events_correlation
		ON spindle_events (correlation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_events_causation
		ON spindle_events (causation_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS spindle_events_idem_unique
		ON spindle_events (user_id, idempotency_key) WHERE idempotency_key != ''`,

	`CREATE TABLE IF NOT EXISTS spindle_jobs (
		id              TEXT PRIMARY KEY,
		group_name      TEXT NOT NULL,
		consumer        TEXT NOT NULL,
		event_id        TEXT NOT NULL,
		state           TEXT NOT NULL DEFAULT 'pending',
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		steps_done      TEXT,
		completed_at    TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_jobs_due
		ON spindle_jobs (group_name, next_attempt_at) WHERE state = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_jobs_event
		ON spindle_jobs (event_id)`,

	`CREATE TABLE IF NOT EXISTS spindle_proposals (
		id                 TEXT PRIMARY KEY,
		workspace_id       TEXT NOT NULL,
		target_type        TEXT NOT NULL,
		target_id          TEXT NOT NULL,
		intent             TEXT NOT NULL,
		requested_event_id TEXT,
		correlation_id     TEXT,
		user_id            TEXT NOT NULL,
		payload            TEXT,
		metadata           TEXT,
		source             TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'pending',
		reviewed_by        TEXT NOT NULL DEFAULT '',
		review_comment     TEXT NOT NULL DEFAULT '',
		reviewed_at        TEXT,
		expires_at         TEXT NOT NULL,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_proposals_workspace
		ON spindle_proposals (workspace_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_proposals_open
		ON spindle_proposals (expires_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_proposals_request
		ON spindle_proposals (requested_event_id)`,

	`CREATE TABLE IF NOT EXISTS spindle_subscriptions (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		url               TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		secret            TEXT NOT NULL,
		event_types       TEXT,
		active            INTEGER NOT NULL DEFAULT 1,
		rate_limit        INTEGER NOT NULL DEFAULT 0,
		metadata          TEXT,
		last_triggered_at TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_subscriptions_user
		ON spindle_subscriptions (user_id)`,

	`CREATE TABLE IF NOT EXISTS spindle_deliveries (
		id              TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		event_id        TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		response_status INTEGER NOT NULL DEFAULT 0,
		attempt         INTEGER NOT NULL DEFAULT 1,
		error           TEXT NOT NULL DEFAULT '',
		latency_ms      INTEGER NOT NULL DEFAULT 0,
		delivered_at    TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_deliveries_subscription
		ON spindle_deliveries (subscription_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_deliveries_event
		ON spindle_deliveries (event_id)`,

	`CREATE TABLE IF NOT EXISTS spindle_dead_letters (
		id            TEXT PRIMARY KEY,
		job_id        TEXT NOT NULL,
		event_id      TEXT NOT NULL,
		group_name    TEXT NOT NULL,
		consumer      TEXT NOT NULL,
		event_type    TEXT NOT NULL DEFAULT '',
		user_id       TEXT NOT NULL DEFAULT '',
		error         TEXT NOT NULL DEFAULT '',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts  INTEGER NOT NULL DEFAULT 0,
		replayed_at   TEXT,
		failed_at     TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_dead_letters_group
		ON spindle_dead_letters (group_name, failed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_spindle_dead_letters_user
		ON spindle_dead_letters (user_id)`,
}
