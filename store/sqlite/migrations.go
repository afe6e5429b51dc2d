package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the rowguard store (SQLite).
var Migrations = migrate.NewGroup("rowguard")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_policies",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rowguard_policies (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    app_id          TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    resource_type   TEXT NOT NULL,
    resource_id     TEXT NOT NULL,
    subject_type    TEXT NOT NULL,
    subject_id      TEXT NOT NULL,
    permission_type TEXT NOT NULL,
    operations      INTEGER NOT NULL,
    row_condition   TEXT NOT NULL DEFAULT '',
    column_config   TEXT NOT NULL DEFAULT '{}',
    effect          TEXT NOT NULL DEFAULT 'allow',
    priority        INTEGER NOT NULL DEFAULT 0,
    valid_from      TEXT,
    valid_to        TEXT,
    status          TEXT NOT NULL DEFAULT 'active',
    granted_by      TEXT NOT NULL DEFAULT '',
    granted_at      TEXT NOT NULL DEFAULT (datetime('now')),
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_by      TEXT NOT NULL DEFAULT '',
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    deleted         INTEGER NOT NULL DEFAULT 0,
    deleted_by      TEXT NOT NULL DEFAULT '',
    deleted_at      TEXT,
    version         INTEGER NOT NULL DEFAULT 1,
    metadata        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_rowguard_policies_resource ON rowguard_policies (tenant_id, resource_type, resource_id, deleted);
CREATE INDEX IF NOT EXISTS idx_rowguard_policies_subject ON rowguard_policies (tenant_id, subject_type, subject_id);
CREATE INDEX IF NOT EXISTS idx_rowguard_policies_order ON rowguard_policies (tenant_id, priority, id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rowguard_policies`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_policy_changes",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rowguard_policy_changes (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    app_id      TEXT NOT NULL DEFAULT '',
    policy_id   TEXT NOT NULL,
    action      TEXT NOT NULL,
    actor       TEXT NOT NULL DEFAULT '',
    resource_id TEXT NOT NULL,
    version     INTEGER NOT NULL,
    snapshot    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rowguard_changes_policy ON rowguard_policy_changes (policy_id, created_at);
CREATE INDEX IF NOT EXISTS idx_rowguard_changes_tenant ON rowguard_policy_changes (tenant_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rowguard_policy_changes`)
				return err
			},
		},
	)
}
