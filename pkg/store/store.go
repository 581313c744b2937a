package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// init registers the regexpDriverName driver, which adds a REGEXP(pattern,
// value) SQL function on top of the stock driver, giving the query façade's regex search a genuine
// SQL-level hook instead of fetching everything and filtering in Go.
// Compiled patterns are cached since the same pattern is typically reused
// across every row in a scan.
const regexpDriverName = "sqlite3_with_regexp"

var regexpCache sync.Map // map[string]*regexp.Regexp

func init() {
	sql.Register(regexpDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("REGEXP", func(pattern, value string) (bool, error) {
				re, ok := regexpCache.Load(pattern)
				if !ok {
					compiled, err := regexp.Compile(pattern)
					if err != nil {
						return false, err
					}
					regexpCache.Store(pattern, compiled)
					re = compiled
				}
				return re.(*regexp.Regexp).MatchString(value), nil
			}, true)
		},
	})
}

// Store wraps a SQLite handle implementing the write/read/maintenance
// operations of the persistence engine. Journal mode (WAL) permits
// concurrent readers with a single active writer; foreign keys are
// enforced for message -> connection integrity.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path, applies the
// WAL/foreign-key pragmas, and runs the idempotent schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open(regexpDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	// SQLite only tolerates one writer connection at a time; a single
	// handle avoids SQLITE_BUSY churn from the driver's own pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: journal_mode: %v", ErrStorageUnavailable, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: foreign_keys: %v", ErrStorageUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: schema migration: %v", ErrStorageUnavailable, err)
		}
	}
	for _, stmt := range triggerStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: trigger migration: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for the query façade's read-only statements.
func (s *Store) DB() *sql.DB {
	return s.db
}

func encodeHeaders(h Headers) string {
	if h == nil {
		h = Headers{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeHeaders(s string) Headers {
	if s == "" {
		return Headers{}
	}
	var h Headers
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return Headers{}
	}
	return h
}

// nullIfEmpty converts "" to a SQL NULL so optional text columns read back
// as the Go zero value rather than an empty string that looks "present".
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// StoreHTTPTransaction inserts a new row with response columns null.
func (s *Store) StoreHTTPTransaction(t *HTTPTransaction) error {
	_, err := s.db.Exec(`
		INSERT INTO http_traffic (
			id, timestamp, method, url, host, path, query, scheme,
			request_headers, request_body, request_size, content_type,
			user_agent, client_addr, upstream_addr, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Timestamp, t.Method, t.URL, t.Host, t.Path, t.Query, t.Scheme,
		encodeHeaders(t.RequestHeaders), nullIfEmpty(t.RequestBody), t.RequestSize, t.ContentType,
		t.UserAgent, t.ClientAddr, t.UpstreamAddr, nullIfEmpty(t.ErrorMessage),
	)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// UpdateHTTPResponse performs the single mutation of an HttpTransaction:
// attaching its paired response. A no-op (0 rows affected) is not an error
// — the caller may have been evicted by retention and should merely log.
func (s *Store) UpdateHTTPResponse(id string, resp *HTTPResponse) error {
	_, err := s.db.Exec(`
		UPDATE http_traffic SET
			status_code = ?, status_message = ?, response_headers = ?,
			response_body = ?, response_size = ?, response_time_ms = ?
		WHERE id = ?`,
		resp.StatusCode, resp.StatusMessage, encodeHeaders(resp.Headers),
		nullIfEmpty(resp.Body), resp.ResponseSize, resp.ResponseTimeMs, id,
	)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// UpdateHTTPError records a transaction that never received a response
// (e.g. upstream failure, or abandonment at engine shutdown).
func (s *Store) UpdateHTTPError(id, message string) error {
	_, err := s.db.Exec(`UPDATE http_traffic SET error_message = ? WHERE id = ?`, message, id)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// StoreWebSocketUpgrade inserts a new connection row.
func (s *Store) StoreWebSocketUpgrade(c *WebSocketConnection) error {
	_, err := s.db.Exec(`
		INSERT INTO websocket_connections (
			id, timestamp, url, host, scheme, request_headers,
			response_status, response_headers, established_at,
			closed_at, close_code, close_reason, client_addr, destination
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Timestamp, c.URL, c.Host, c.Scheme, encodeHeaders(c.RequestHeaders),
		nullIfZero(int64(c.ResponseStatus)), encodeHeadersPtr(c.ResponseHeaders), c.Lifecycle.EstablishedAt,
		nullIfZero(c.Lifecycle.ClosedAt), nullIfZero(int64(c.Lifecycle.CloseCode)), nullIfEmpty(c.Lifecycle.CloseReason),
		c.ClientAddr, c.Destination,
	)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

func encodeHeadersPtr(h Headers) interface{} {
	if h == nil {
		return nil
	}
	return encodeHeaders(h)
}

// UpdateWebSocketClose records connection close; fires only after the
// upstream close has actually been observed by the caller.
func (s *Store) UpdateWebSocketClose(id string, closedAt int64, closeCode int, closeReason string) error {
	_, err := s.db.Exec(`
		UPDATE websocket_connections SET closed_at = ?, close_code = ?, close_reason = ?
		WHERE id = ?`,
		closedAt, closeCode, nullIfEmpty(closeReason), id,
	)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// AppendWebSocketMessage inserts a message row, foreign-keyed to its
// connection.
func (s *Store) AppendWebSocketMessage(m *WebSocketMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO websocket_messages (connection_id, timestamp, direction, type, payload, byte_size)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConnectionID, m.Timestamp, m.Direction, m.Type, nullIfEmpty(m.Payload), m.ByteSize,
	)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

func classifyWriteError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"), strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
	case strings.Contains(msg, "disk I/O error"), strings.Contains(msg, "database disk image is malformed"), strings.Contains(msg, "unable to open database file"):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	default:
		return err
	}
}
