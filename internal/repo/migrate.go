package repo

import (
	"context"
	stdsql "database/sql"

	entsql "entgo.io/ent/dialect/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(36) NOT NULL,
		user_id BIGINT UNSIGNED NOT NULL,
		kind INT NOT NULL,
		status INT NOT NULL,
		config JSON NOT NULL,
		` + "`cursor`" + ` INT NOT NULL DEFAULT 0,
		scripted_count INT NOT NULL DEFAULT 0,
		progress_percent INT NOT NULL DEFAULT 0,
		summary JSON NULL,
		started_at DATETIME(6) NOT NULL,
		last_activity_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		KEY idx_sessions_user (user_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS question_slots (
		session_id VARCHAR(36) NOT NULL,
		ordinal INT NOT NULL,
		parent_ordinal INT NULL,
		follow_up_depth INT NOT NULL DEFAULT 0,
		question_text TEXT NOT NULL,
		category VARCHAR(64) NOT NULL,
		time_limit_seconds INT NOT NULL DEFAULT 0,
		state INT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (session_id, ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS answers (
		session_id VARCHAR(36) NOT NULL,
		slot_ordinal INT NOT NULL,
		text TEXT NOT NULL,
		payload_hash VARCHAR(64) NOT NULL,
		time_taken_seconds INT NOT NULL DEFAULT 0,
		submitted_at DATETIME(6) NOT NULL,
		pending_evaluation TINYINT(1) NOT NULL DEFAULT 0,
		evaluation JSON NULL,
		PRIMARY KEY (session_id, slot_ordinal),
		KEY idx_answers_pending (pending_evaluation, submitted_at)
	)`,
}

// Migrate creates the tables on startup when they are missing.
func Migrate(ctx context.Context, drv *entsql.Driver) error {
	for _, stmt := range schema {
		var res stdsql.Result
		if err := drv.Exec(ctx, stmt, []interface{}{}, &res); err != nil {
			return err
		}
	}
	return nil
}
