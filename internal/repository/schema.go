package repository

import (
	"context"
	"fmt"
)

// schemaDDL bootstraps the payroll schema. Every statement is idempotent
// so it runs safely on each startup. The audit_log trigger rejects UPDATE
// and DELETE at the storage layer: audit records are write-once.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS salary_settings (
		key TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS currency_rates (
		id UUID PRIMARY KEY,
		base_currency TEXT NOT NULL,
		target_currency TEXT NOT NULL,
		year INT NOT NULL,
		month INT NOT NULL CHECK (month BETWEEN 1 AND 12),
		payload JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (base_currency, target_currency, year, month)
	)`,
	`CREATE TABLE IF NOT EXISTS teacher_invoices (
		id UUID PRIMARY KEY,
		teacher_id UUID NOT NULL,
		month INT NOT NULL CHECK (month BETWEEN 1 AND 12),
		year INT NOT NULL,
		status TEXT NOT NULL,
		invoice_number TEXT NOT NULL DEFAULT '',
		is_adjustment BOOLEAN NOT NULL DEFAULT FALSE,
		adjustment_for UUID,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		payload JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE teacher_invoices ADD COLUMN IF NOT EXISTS invoice_number TEXT NOT NULL DEFAULT ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS teacher_invoices_period_idx
		ON teacher_invoices (teacher_id, year, month)
		WHERE NOT is_adjustment AND NOT deleted`,
	`CREATE INDEX IF NOT EXISTS teacher_invoices_numbered_idx
		ON teacher_invoices (year, month)
		WHERE invoice_number <> ''`,
	`CREATE INDEX IF NOT EXISTS teacher_invoices_period_status_idx
		ON teacher_invoices (year, month, status)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		before_state JSONB,
		after_state JSONB,
		diff JSONB,
		reason TEXT,
		success BOOLEAN NOT NULL DEFAULT TRUE,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_entity_idx ON audit_log (entity_type, entity_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS audit_log_actor_idx ON audit_log (actor, created_at)`,
	`CREATE OR REPLACE FUNCTION audit_log_write_once() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_log records are write-once';
	END
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS audit_log_write_once ON audit_log`,
	`CREATE TRIGGER audit_log_write_once
		BEFORE UPDATE OR DELETE ON audit_log
		FOR EACH ROW EXECUTE FUNCTION audit_log_write_once()`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		idempotency_key TEXT PRIMARY KEY,
		request_hash TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		response_status INT,
		response_body BYTEA,
		content_type TEXT,
		in_progress BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates all tables, indexes and triggers if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
