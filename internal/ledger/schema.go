package ledger

// Schema is applied on every open. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS created_groups (
	owner_id TEXT NOT NULL,
	group_name TEXT NOT NULL,
	group_id TEXT NOT NULL,
	batch_id TEXT DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (owner_id, group_name)
);

CREATE TABLE IF NOT EXISTS invite_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id TEXT NOT NULL,
	group_name TEXT NOT NULL,
	invite_link TEXT DEFAULT '',
	status TEXT NOT NULL,
	detail TEXT DEFAULT '',
	batch_id TEXT DEFAULT '',
	day TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invite_log_owner_day ON invite_log(owner_id, day);
CREATE INDEX IF NOT EXISTS idx_invite_log_batch ON invite_log(batch_id);
`
