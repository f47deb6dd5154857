package postgres

import (
	"context"
	"errors"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipelines (
	project_id   TEXT NOT NULL,
	pipeline_id  TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	yaml         TEXT NOT NULL,
	deleted      BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project_id, pipeline_id)
);

CREATE TABLE IF NOT EXISTS plan_executions (
	plan_execution_id          TEXT PRIMARY KEY,
	project_id                 TEXT NOT NULL,
	pipeline_id                TEXT NOT NULL,
	root_execution_id          TEXT NOT NULL,
	retried_from_execution_id  TEXT,
	status                     TEXT NOT NULL,
	started_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at                   TIMESTAMPTZ,
	is_latest_execution        BOOLEAN NOT NULL DEFAULT TRUE,
	rollback_mode_execution_id TEXT,
	yaml                       TEXT NOT NULL DEFAULT '',
	processed_yaml             TEXT NOT NULL DEFAULT '',
	stages_execution           JSONB
);

CREATE INDEX IF NOT EXISTS plan_executions_root_idx
	ON plan_executions (project_id, root_execution_id, started_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS plan_executions_retried_from_idx
	ON plan_executions (project_id, retried_from_execution_id)
	WHERE retried_from_execution_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS stage_executions (
	stage_execution_id TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL,
	plan_execution_id  TEXT NOT NULL REFERENCES plan_executions (plan_execution_id),
	position           INTEGER NOT NULL,
	identifier         TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	parent_id          TEXT NOT NULL DEFAULT '',
	next_id            TEXT,
	status             TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (plan_execution_id, identifier)
);

CREATE TABLE IF NOT EXISTS node_executions (
	node_execution_id TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	plan_execution_id TEXT NOT NULL REFERENCES plan_executions (plan_execution_id),
	plan_node_uuid    TEXT NOT NULL,
	identifier        TEXT NOT NULL DEFAULT '',
	stage_fqn         TEXT NOT NULL DEFAULT '',
	step_category     TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS node_executions_plan_node_idx
	ON node_executions (project_id, plan_execution_id, plan_node_uuid);

CREATE TABLE IF NOT EXISTS execution_plans (
	plan_id           TEXT PRIMARY KEY,
	plan_execution_id TEXT NOT NULL UNIQUE,
	project_id        TEXT NOT NULL,
	plan              JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_events (
	event_id         BIGSERIAL PRIMARY KEY,
	occurred_at      TIMESTAMPTZ NOT NULL,
	actor            TEXT NOT NULL,
	action           TEXT NOT NULL,
	resource_type    TEXT NOT NULL,
	resource_id      TEXT NOT NULL,
	request_id       TEXT,
	ip               INET,
	user_agent       TEXT,
	payload          JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
);
`

// Migrate creates the tables the retry planner reads and writes.
func Migrate(ctx context.Context, db DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
