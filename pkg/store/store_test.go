package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "traffic.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreHTTPTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	txn := &HTTPTransaction{
		ID:             "txn-1",
		Timestamp:      1000,
		Method:         "GET",
		URL:            "http://example.com/ping",
		Host:           "example.com",
		Path:           "/ping",
		Scheme:         "http",
		RequestHeaders: Headers{{Name: "User-Agent", Value: "test"}},
		ContentType:    "text/plain",
	}
	if err := s.StoreHTTPTransaction(txn); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	got, err := s.GetHTTPTransaction("txn-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Response != nil {
		t.Error("expected nil response before update")
	}
	if got.Method != "GET" {
		t.Errorf("expected GET, got %s", got.Method)
	}

	resp := &HTTPResponse{StatusCode: 200, Body: "pong", ResponseTimeMs: 42}
	if err := s.UpdateHTTPResponse("txn-1", resp); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err = s.GetHTTPTransaction("txn-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Response == nil || got.Response.StatusCode != 200 || got.Response.Body != "pong" {
		t.Errorf("unexpected response: %+v", got.Response)
	}
}

func TestGetHTTPTransactionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetHTTPTransaction("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWebSocketLifecycle(t *testing.T) {
	s := openTestStore(t)

	conn := &WebSocketConnection{
		ID:        "ws-1",
		Timestamp: 1000,
		URL:       "ws://example.com/echo",
		Host:      "example.com",
		Scheme:    "ws",
		Lifecycle: ConnectionLifecycle{EstablishedAt: 1000},
	}
	if err := s.StoreWebSocketUpgrade(conn); err != nil {
		t.Fatalf("store upgrade failed: %v", err)
	}

	if err := s.AppendWebSocketMessage(&WebSocketMessage{ConnectionID: "ws-1", Timestamp: 1001, Direction: "outbound", Type: "text", Payload: "hi"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.AppendWebSocketMessage(&WebSocketMessage{ConnectionID: "ws-1", Timestamp: 1002, Direction: "inbound", Type: "text", Payload: "hi"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := s.UpdateWebSocketClose("ws-1", 1003, 1000, ""); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	got, err := s.GetWebSocketConnection("ws-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Lifecycle.ClosedAt != 1003 || got.Lifecycle.CloseCode != 1000 {
		t.Errorf("unexpected lifecycle: %+v", got.Lifecycle)
	}

	msgs, err := s.GetWebSocketMessages("ws-1")
	if err != nil {
		t.Fatalf("messages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Direction != "outbound" || msgs[1].Direction != "inbound" {
		t.Errorf("unexpected ordering: %+v", msgs)
	}
}

func TestAppendMessageToMissingConnectionViolatesIntegrity(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendWebSocketMessage(&WebSocketMessage{ConnectionID: "nope", Timestamp: 1, Direction: "inbound", Type: "text"})
	if !errors.Is(err, ErrIntegrityViolation) {
		t.Errorf("expected ErrIntegrityViolation, got %v", err)
	}
}

func TestFTSCoherenceAfterUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)

	txn := &HTTPTransaction{ID: "t1", Timestamp: 1, Method: "GET", URL: "http://x/a", Host: "x", Path: "/a", Scheme: "http"}
	if err := s.StoreHTTPTransaction(txn); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.UpdateHTTPResponse("t1", &HTTPResponse{StatusCode: 200, Body: "pong response"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM http_traffic_fts WHERE http_traffic_fts MATCH 'pong'`).Scan(&count); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 fts match after update, got %d", count)
	}

	if err := s.DeleteAll(); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if err := s.db.QueryRow(`SELECT count(*) FROM http_traffic_fts WHERE http_traffic_fts MATCH 'pong'`).Scan(&count); err != nil {
		t.Fatalf("fts query after delete: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 fts matches after delete, got %d", count)
	}
}

func TestRepairRebuildsFTS(t *testing.T) {
	s := openTestStore(t)
	txn := &HTTPTransaction{ID: "t1", Timestamp: 1, Method: "GET", URL: "http://x/a", Host: "x", Path: "/a", Scheme: "http", RequestBody: "searchable"}
	if err := s.StoreHTTPTransaction(txn); err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := s.Repair(); err != nil {
		t.Fatalf("repair: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM http_traffic_fts WHERE http_traffic_fts MATCH 'searchable'`).Scan(&count); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 fts match after repair, got %d", count)
	}
}

func TestDeleteBeforeCascades(t *testing.T) {
	s := openTestStore(t)

	conn := &WebSocketConnection{ID: "ws-old", Timestamp: 100, Scheme: "ws", Lifecycle: ConnectionLifecycle{EstablishedAt: 100}}
	if err := s.StoreWebSocketUpgrade(conn); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.AppendWebSocketMessage(&WebSocketMessage{ConnectionID: "ws-old", Timestamp: 101, Direction: "inbound", Type: "text"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.DeleteBefore(200); err != nil {
		t.Fatalf("delete before: %v", err)
	}

	if _, err := s.GetWebSocketConnection("ws-old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected connection to be deleted, got err=%v", err)
	}
}
