package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migrations are applied in order at connect time. Entries are append-only:
// never edit a released migration, add a new one.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id               BIGSERIAL PRIMARY KEY,
		hostname         TEXT NOT NULL,
		ip               TEXT NOT NULL,
		os_name          TEXT NOT NULL DEFAULT 'unknown',
		os_version       TEXT NOT NULL DEFAULT 'unknown',
		kernel_version   TEXT NOT NULL DEFAULT 'unknown',
		package_manager  TEXT NOT NULL DEFAULT 'unknown',
		last_update_time TIMESTAMPTZ,
		last_seen        TIMESTAMPTZ,
		agent_token      TEXT NOT NULL UNIQUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS inventories (
		id                     BIGSERIAL PRIMARY KEY,
		server_id              BIGINT NOT NULL REFERENCES servers(id),
		collected_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		hostname               TEXT NOT NULL,
		ip                     TEXT NOT NULL,
		os_name                TEXT NOT NULL,
		os_version             TEXT NOT NULL,
		kernel_version         TEXT NOT NULL,
		package_manager        TEXT NOT NULL,
		last_update_time       TIMESTAMPTZ,
		reboot_required        BOOLEAN NOT NULL DEFAULT FALSE,
		updates_count          INTEGER NOT NULL DEFAULT 0,
		security_updates_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inventories_server_collected
		ON inventories (server_id, collected_at DESC)`,
	`CREATE TABLE IF NOT EXISTS updates (
		id                BIGSERIAL PRIMARY KEY,
		inventory_id      BIGINT NOT NULL REFERENCES inventories(id) ON DELETE CASCADE,
		name              TEXT NOT NULL,
		current_version   TEXT NOT NULL DEFAULT '',
		candidate_version TEXT NOT NULL DEFAULT '',
		is_security       BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'operator',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id                BIGSERIAL PRIMARY KEY,
		server_id         BIGINT NOT NULL REFERENCES servers(id),
		job_type          TEXT NOT NULL,
		status            TEXT NOT NULL,
		scheduled_at      TIMESTAMPTZ,
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by       BIGINT REFERENCES users(id),
		approved_at       TIMESTAMPTZ,
		approval_reason   TEXT,
		created_by        BIGINT REFERENCES users(id),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled
		ON jobs (status, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_server ON jobs (server_id)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		id          BIGSERIAL PRIMARY KEY,
		job_id      BIGINT NOT NULL REFERENCES jobs(id),
		status      TEXT NOT NULL,
		exit_code   INTEGER NOT NULL DEFAULT 0,
		stdout      TEXT NOT NULL DEFAULT '',
		stderr      TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_job ON attempts (job_id, id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          BIGSERIAL PRIMARY KEY,
		actor_type  TEXT NOT NULL,
		actor_id    BIGINT,
		action      TEXT NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id   BIGINT,
		message     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// migrate applies pending migrations inside a single connection, tracking
// progress in schema_migrations.
func migrate(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := conn.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := conn.Exec(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		if _, err := conn.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
	}
	return nil
}
