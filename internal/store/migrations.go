package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	message_id      TEXT PRIMARY KEY,
	subject         TEXT NOT NULL DEFAULT '',
	body_preview    TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	sender_name     TEXT NOT NULL DEFAULT '',
	recipients      TEXT NOT NULL DEFAULT '[]',
	cc_recipients   TEXT NOT NULL DEFAULT '[]',
	received_at     DATETIME NOT NULL,
	has_attachments INTEGER NOT NULL DEFAULT 0 CHECK(has_attachments IN (0, 1)),
	importance      TEXT NOT NULL DEFAULT 'normal',
	is_read         INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	body            TEXT,
	body_type       TEXT,
	attachment_info TEXT,
	processed_at    DATETIME NOT NULL,
	updated_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);
CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender);
CREATE INDEX IF NOT EXISTS idx_emails_is_read ON emails(is_read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE emails ADD COLUMN body_text TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS sync_runs (
	id          TEXT PRIMARY KEY,
	trigger     TEXT NOT NULL CHECK(trigger IN ('scheduled', 'warmup', 'manual')),
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	processed   INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	pages       INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
