package storage

// The schema is written in the dialect intersection of postgres and SQLite:
// TEXT/INTEGER columns, epoch-millisecond timestamps, JSON persisted as TEXT,
// booleans as 0/1. Placeholders throughout the package are $N, used once each
// in ascending order, which both drivers bind positionally.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS integrations (
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	config TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, kind)
);

CREATE TABLE IF NOT EXISTS push_channels (
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	channel_token TEXT NOT NULL,
	sync_token TEXT NOT NULL DEFAULT '',
	expiration_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, calendar_id, channel_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_one_active
	ON push_channels(tenant_id, calendar_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_channels_by_id ON push_channels(tenant_id, channel_id);
CREATE INDEX IF NOT EXISTS idx_channels_status ON push_channels(status, updated_at);

CREATE TABLE IF NOT EXISTS deals (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	founder TEXT NOT NULL DEFAULT '',
	task_record_gid TEXT NOT NULL DEFAULT '',
	doc_root_id TEXT NOT NULL DEFAULT '',
	doc_urls TEXT NOT NULL DEFAULT '{}',
	current_stage TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_deals_event
	ON deals(tenant_id, calendar_id, event_id);
CREATE INDEX IF NOT EXISTS idx_deals_task ON deals(tenant_id, task_record_gid);

CREATE TABLE IF NOT EXISTS task_states (
	tenant_id TEXT NOT NULL,
	task_gid TEXT NOT NULL,
	project_gid TEXT NOT NULL,
	last_seen_section_gid TEXT NOT NULL DEFAULT '',
	last_processed_modified_at TEXT NOT NULL DEFAULT '',
	last_triggered_stage TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, task_gid, project_gid)
);

CREATE TABLE IF NOT EXISTS pipeline_sections (
	tenant_id TEXT NOT NULL,
	section_gid TEXT NOT NULL,
	stage_key TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (tenant_id, section_gid)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idempotency_age ON idempotency_keys(created_at);

CREATE TABLE IF NOT EXISTS workflow_runs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	meta TEXT NOT NULL DEFAULT '{}',
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_runs_deal ON workflow_runs(tenant_id, deal_id, status);

CREATE TABLE IF NOT EXISTS kv_pairs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// InitSchema creates all tables and indexes. Statements are IF NOT EXISTS so
// every service can run it at boot.
func (d *Database) InitSchema() error {
	if _, err := d.db.Exec(schemaSQL); err != nil {
		return err
	}
	d.logger.Debug().Msg("Database schema initialized")
	return nil
}
