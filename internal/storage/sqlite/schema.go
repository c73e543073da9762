package sqlite

// schemaV1 is the initial Laminark schema, grounded on the teacher's
// schema.go layout: plain tables for the domain entities, an FTS5 content
// table maintained by triggers, and recursive-CTE-friendly indexes.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS observations (
	rowid             INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	project_hash      TEXT NOT NULL,
	content           TEXT NOT NULL,
	title             TEXT,
	source            TEXT,
	session_id        TEXT,
	kind              TEXT NOT NULL,
	embedding         BLOB,
	embedding_model   TEXT,
	embedding_version TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	deleted_at        TEXT
);
CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project_hash, created_at DESC, rowid DESC);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id);
CREATE INDEX IF NOT EXISTS idx_observations_pending_embedding ON observations(embedding_model) WHERE embedding_model IS NULL;

CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
	content, title,
	content='observations', content_rowid='rowid',
	tokenize='porter unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
	INSERT INTO observations_fts(rowid, content, title) VALUES (new.rowid, new.content, new.title);
END;
CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, content, title) VALUES ('delete', old.rowid, old.content, old.title);
END;
CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, content, title) VALUES ('delete', old.rowid, old.content, old.title);
	INSERT INTO observations_fts(rowid, content, title) VALUES (new.rowid, new.content, new.title);
END;

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	project_hash TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	ended_at     TEXT,
	summary      TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_hash, started_at DESC);

CREATE TABLE IF NOT EXISTS stashes (
	id                    TEXT PRIMARY KEY,
	project_hash          TEXT NOT NULL,
	session_id            TEXT NOT NULL,
	topic_label           TEXT NOT NULL,
	summary               TEXT NOT NULL,
	observation_ids       TEXT NOT NULL,
	observation_snapshots TEXT NOT NULL,
	created_at            TEXT NOT NULL,
	resumed_at            TEXT,
	status                TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stashes_project ON stashes(project_hash, created_at DESC);

CREATE TABLE IF NOT EXISTS graph_nodes (
	id             TEXT PRIMARY KEY,
	project_hash   TEXT NOT NULL,
	type           TEXT NOT NULL,
	name           TEXT NOT NULL,
	metadata       TEXT,
	observation_ids TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	UNIQUE(project_hash, type, name)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	id           TEXT PRIMARY KEY,
	project_hash TEXT NOT NULL,
	source_id    TEXT NOT NULL REFERENCES graph_nodes(id),
	target_id    TEXT NOT NULL REFERENCES graph_nodes(id),
	type         TEXT NOT NULL,
	confidence   REAL NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	UNIQUE(source_id, target_id, type)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id);

CREATE TABLE IF NOT EXISTS graph_staleness_flags (
	id           TEXT PRIMARY KEY,
	project_hash TEXT NOT NULL,
	edge_id      TEXT NOT NULL,
	reason       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	resolved_at  TEXT
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	project_hash TEXT NOT NULL,
	message      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_project ON notifications(project_hash, created_at);

CREATE TABLE IF NOT EXISTS threshold_history (
	project_hash   TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	mean_distance  REAL NOT NULL,
	variance       REAL NOT NULL,
	timestamp      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threshold_history_project ON threshold_history(project_hash, timestamp DESC);

CREATE TABLE IF NOT EXISTS shift_decisions (
	id           TEXT PRIMARY KEY,
	project_hash TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	distance     REAL NOT NULL,
	threshold    REAL NOT NULL,
	shifted      INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	ewma_state   TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shift_decisions_session ON shift_decisions(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS project_metadata (
	project_hash TEXT NOT NULL,
	key          TEXT NOT NULL,
	value        TEXT,
	PRIMARY KEY (project_hash, key)
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TEXT NOT NULL
);
`

// vectorSchemaFmt creates observation_vectors, the vec0-backed mirror of
// every embedded observation's vector, keyed by observation id and sized to
// the embedding dimensionality in use. Store.ensureVectorIndex formats and
// executes this the first time an embedding is written to a store that
// passed probeVectorSupport, per spec.md §3's "vector-table lifetime"
// invariant: once it exists, every embedding write of the dimensionality
// it was created with is mirrored into it.
const vectorSchemaFmt = `
CREATE VIRTUAL TABLE IF NOT EXISTS observation_vectors USING vec0(
	observation_id TEXT PRIMARY KEY,
	embedding      float[%d]
);
`
