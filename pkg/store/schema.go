package store

// schemaStatements creates the base tables, indices and FTS5 virtual tables;
// the coherence triggers are in triggerStatements. Every statement is
// idempotent (IF NOT EXISTS),
// so opening an existing database re-runs this safely.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS http_traffic (
		id               TEXT PRIMARY KEY,
		timestamp        INTEGER NOT NULL,
		method           TEXT NOT NULL,
		url              TEXT NOT NULL,
		host             TEXT NOT NULL,
		path             TEXT NOT NULL,
		query            TEXT NOT NULL DEFAULT '',
		scheme           TEXT NOT NULL,
		request_headers  TEXT NOT NULL DEFAULT '[]',
		request_body     TEXT,
		request_size     INTEGER NOT NULL DEFAULT 0,
		content_type     TEXT NOT NULL DEFAULT '',
		user_agent       TEXT NOT NULL DEFAULT '',
		client_addr      TEXT NOT NULL DEFAULT '',
		upstream_addr    TEXT NOT NULL DEFAULT '',
		error_message    TEXT,
		status_code      INTEGER,
		status_message   TEXT,
		response_headers TEXT,
		response_body    TEXT,
		response_size    INTEGER,
		response_time_ms INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_http_traffic_timestamp ON http_traffic(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_http_traffic_host ON http_traffic(host)`,
	`CREATE INDEX IF NOT EXISTS idx_http_traffic_method ON http_traffic(method)`,
	`CREATE INDEX IF NOT EXISTS idx_http_traffic_status ON http_traffic(status_code)`,

	`CREATE TABLE IF NOT EXISTS websocket_connections (
		id                TEXT PRIMARY KEY,
		timestamp         INTEGER NOT NULL,
		url               TEXT NOT NULL,
		host              TEXT NOT NULL,
		scheme            TEXT NOT NULL,
		request_headers   TEXT NOT NULL DEFAULT '[]',
		response_status   INTEGER,
		response_headers  TEXT,
		established_at    INTEGER NOT NULL,
		closed_at         INTEGER,
		close_code        INTEGER,
		close_reason      TEXT,
		client_addr       TEXT NOT NULL DEFAULT '',
		destination       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ws_conn_timestamp ON websocket_connections(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_ws_conn_host ON websocket_connections(host)`,
	`CREATE INDEX IF NOT EXISTS idx_ws_conn_scheme ON websocket_connections(scheme)`,

	`CREATE TABLE IF NOT EXISTS websocket_messages (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id TEXT NOT NULL REFERENCES websocket_connections(id) ON DELETE CASCADE,
		timestamp     INTEGER NOT NULL,
		direction     TEXT NOT NULL,
		type          TEXT NOT NULL,
		payload       TEXT,
		byte_size     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ws_msg_connection ON websocket_messages(connection_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ws_msg_timestamp ON websocket_messages(timestamp)`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS http_traffic_fts USING fts5(
		id, url, request_headers, request_body, response_body,
		content='http_traffic', content_rowid='rowid'
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS websocket_traffic_fts USING fts5(
		id, url, request_headers,
		content='websocket_connections', content_rowid='rowid'
	)`,
}

// triggerStatements implement the FTS coherence contract: insert on base
// insert, delete-then-insert on base update, delete on base delete.
var triggerStatements = []string{
	`CREATE TRIGGER IF NOT EXISTS http_traffic_ai AFTER INSERT ON http_traffic BEGIN
		INSERT INTO http_traffic_fts(rowid, id, url, request_headers, request_body, response_body)
		VALUES (new.rowid, new.id, new.url, new.request_headers, new.request_body, new.response_body);
	END`,
	`CREATE TRIGGER IF NOT EXISTS http_traffic_ad AFTER DELETE ON http_traffic BEGIN
		INSERT INTO http_traffic_fts(http_traffic_fts, rowid, id, url, request_headers, request_body, response_body)
		VALUES ('delete', old.rowid, old.id, old.url, old.request_headers, old.request_body, old.response_body);
	END`,
	`CREATE TRIGGER IF NOT EXISTS http_traffic_au AFTER UPDATE ON http_traffic BEGIN
		INSERT INTO http_traffic_fts(http_traffic_fts, rowid, id, url, request_headers, request_body, response_body)
		VALUES ('delete', old.rowid, old.id, old.url, old.request_headers, old.request_body, old.response_body);
		INSERT INTO http_traffic_fts(rowid, id, url, request_headers, request_body, response_body)
		VALUES (new.rowid, new.id, new.url, new.request_headers, new.request_body, new.response_body);
	END`,

	`CREATE TRIGGER IF NOT EXISTS websocket_conn_ai AFTER INSERT ON websocket_connections BEGIN
		INSERT INTO websocket_traffic_fts(rowid, id, url, request_headers)
		VALUES (new.rowid, new.id, new.url, new.request_headers);
	END`,
	`CREATE TRIGGER IF NOT EXISTS websocket_conn_ad AFTER DELETE ON websocket_connections BEGIN
		INSERT INTO websocket_traffic_fts(websocket_traffic_fts, rowid, id, url, request_headers)
		VALUES ('delete', old.rowid, old.id, old.url, old.request_headers);
	END`,
	`CREATE TRIGGER IF NOT EXISTS websocket_conn_au AFTER UPDATE ON websocket_connections BEGIN
		INSERT INTO websocket_traffic_fts(websocket_traffic_fts, rowid, id, url, request_headers)
		VALUES ('delete', old.rowid, old.id, old.url, old.request_headers);
		INSERT INTO websocket_traffic_fts(rowid, id, url, request_headers)
		VALUES (new.rowid, new.id, new.url, new.request_headers);
	END`,
}

var dropFTSStatements = []string{
	`DROP TRIGGER IF EXISTS http_traffic_ai`,
	`DROP TRIGGER IF EXISTS http_traffic_ad`,
	`DROP TRIGGER IF EXISTS http_traffic_au`,
	`DROP TRIGGER IF EXISTS websocket_conn_ai`,
	`DROP TRIGGER IF EXISTS websocket_conn_ad`,
	`DROP TRIGGER IF EXISTS websocket_conn_au`,
	`DROP TABLE IF EXISTS http_traffic_fts`,
	`DROP TABLE IF EXISTS websocket_traffic_fts`,
}
