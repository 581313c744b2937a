package store

import (
	"database/sql"
	"fmt"
)

// GetHTTPTransaction looks up a single HTTP transaction by id.
func (s *Store) GetHTTPTransaction(id string) (*HTTPTransaction, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, method, url, host, path, query, scheme,
			request_headers, request_body, request_size, content_type,
			user_agent, client_addr, upstream_addr, error_message,
			status_code, status_message, response_headers, response_body,
			response_size, response_time_ms
		FROM http_traffic WHERE id = ?`, id)

	t, err := scanHTTPTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHTTPTransaction(row rowScanner) (*HTTPTransaction, error) {
	var t HTTPTransaction
	var reqHeaders string
	var reqBody, errMsg, statusMsg, respHeaders, respBody sql.NullString
	var statusCode, respSize, respTimeMs sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Timestamp, &t.Method, &t.URL, &t.Host, &t.Path, &t.Query, &t.Scheme,
		&reqHeaders, &reqBody, &t.RequestSize, &t.ContentType,
		&t.UserAgent, &t.ClientAddr, &t.UpstreamAddr, &errMsg,
		&statusCode, &statusMsg, &respHeaders, &respBody,
		&respSize, &respTimeMs,
	)
	if err != nil {
		return nil, err
	}

	t.RequestHeaders = decodeHeaders(reqHeaders)
	t.RequestBody = reqBody.String
	t.ErrorMessage = errMsg.String

	if statusCode.Valid {
		t.Response = &HTTPResponse{
			StatusCode:     int(statusCode.Int64),
			StatusMessage:  statusMsg.String,
			Headers:        decodeHeaders(respHeaders.String),
			Body:           respBody.String,
			ResponseSize:   respSize.Int64,
			ResponseTimeMs: respTimeMs.Int64,
		}
	}
	return &t, nil
}

// GetWebSocketConnection looks up a connection by id, without its messages
// (messages are materialized separately — see GetWebSocketMessages).
func (s *Store) GetWebSocketConnection(id string) (*WebSocketConnection, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, url, host, scheme, request_headers,
			response_status, response_headers, established_at,
			closed_at, close_code, close_reason, client_addr, destination
		FROM websocket_connections WHERE id = ?`, id)

	c, err := scanWebSocketConnection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return c, nil
}

func scanWebSocketConnection(row rowScanner) (*WebSocketConnection, error) {
	var c WebSocketConnection
	var reqHeaders string
	var respStatus, closedAt, closeCode sql.NullInt64
	var respHeaders, closeReason sql.NullString

	err := row.Scan(
		&c.ID, &c.Timestamp, &c.URL, &c.Host, &c.Scheme, &reqHeaders,
		&respStatus, &respHeaders, &c.Lifecycle.EstablishedAt,
		&closedAt, &closeCode, &closeReason, &c.ClientAddr, &c.Destination,
	)
	if err != nil {
		return nil, err
	}

	c.RequestHeaders = decodeHeaders(reqHeaders)
	c.ResponseStatus = int(respStatus.Int64)
	c.ResponseHeaders = decodeHeaders(respHeaders.String)
	c.Lifecycle.ClosedAt = closedAt.Int64
	c.Lifecycle.CloseCode = int(closeCode.Int64)
	c.Lifecycle.CloseReason = closeReason.String
	return &c, nil
}

// GetWebSocketMessages fetches all message rows for a connection, ordered
// by timestamp (their total order per spec.md §3).
func (s *Store) GetWebSocketMessages(connectionID string) ([]WebSocketMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, connection_id, timestamp, direction, type, payload, byte_size
		FROM websocket_messages WHERE connection_id = ? ORDER BY timestamp ASC, id ASC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []WebSocketMessage
	for rows.Next() {
		var m WebSocketMessage
		var payload sql.NullString
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.Timestamp, &m.Direction, &m.Type, &payload, &m.ByteSize); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		m.Payload = payload.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}
