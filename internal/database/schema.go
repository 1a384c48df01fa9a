package database

// Schema for the session repository. Sessions are the durable lifecycle
// records; transcripts and translations are append-only audit tables hanging
// off them.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	presenter_id       TEXT NOT NULL DEFAULT '',
	presenter_language TEXT NOT NULL DEFAULT '',
	listener_language  TEXT NOT NULL DEFAULT '',
	class_code         TEXT NOT NULL DEFAULT '',
	listener_count     INTEGER NOT NULL DEFAULT 0,
	total_deliveries   INTEGER NOT NULL DEFAULT 0,
	is_active          INTEGER NOT NULL DEFAULT 1,
	quality            TEXT NOT NULL DEFAULT 'unknown',
	quality_reason     TEXT NOT NULL DEFAULT '',
	last_activity_at   DATETIME NOT NULL,
	start_time         DATETIME NOT NULL,
	end_time           DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_active    ON sessions(is_active);
CREATE INDEX IF NOT EXISTS idx_sessions_presenter ON sessions(presenter_id, start_time);

CREATE TABLE IF NOT EXISTS transcripts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	language   TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, created_at);

CREATE TABLE IF NOT EXISTS translations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL REFERENCES sessions(id),
	source_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	source_text     TEXT NOT NULL,
	target_text     TEXT NOT NULL,
	latency_ms      INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_translations_session ON translations(session_id, created_at);
`
