package query

import (
	"path/filepath"
	"testing"

	"github.com/proxymcpd/proxymcpd/pkg/store"
)

func newTestFacade(t *testing.T) (*Facade, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "traffic.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seedHTTP(t *testing.T, st *store.Store, id, scheme, method string, ts int64, status int) {
	t.Helper()
	txn := &store.HTTPTransaction{
		ID: id, Timestamp: ts, Method: method, URL: "http://example.com/" + id,
		Host: "example.com", Path: "/" + id, Scheme: scheme,
	}
	if err := st.StoreHTTPTransaction(txn); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if status != 0 {
		if err := st.UpdateHTTPResponse(id, &store.HTTPResponse{StatusCode: status, ResponseTimeMs: 10}); err != nil {
			t.Fatalf("seed update: %v", err)
		}
	}
}

func TestProtocolFilterSoundness(t *testing.T) {
	fc, st := newTestFacade(t)
	seedHTTP(t, st, "h1", "http", "GET", 100, 200)
	seedHTTP(t, st, "h2", "https", "GET", 200, 200)

	rows, err := Filter{Scheme: SchemeHTTPS}.List(fc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, r := range rows {
		if r.Scheme != "https" {
			t.Errorf("expected only https rows, got %q", r.Scheme)
		}
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 https row, got %d", len(rows))
	}
}

func TestPaginationCoversAllRows(t *testing.T) {
	fc, st := newTestFacade(t)
	for i := 0; i < 10; i++ {
		seedHTTP(t, st, string(rune('a'+i)), "http", "GET", int64(100+i), 200)
	}

	full, err := Filter{Limit: 1000}.List(fc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(full) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(full))
	}

	var paged []Row
	k := 3
	for offset := 0; offset < 10; offset += k {
		page, err := Filter{Limit: k, Offset: offset}.List(fc)
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		paged = append(paged, page...)
	}

	if len(paged) != len(full) {
		t.Fatalf("paged total %d != full %d", len(paged), len(full))
	}
	for i := range full {
		if full[i].ID != paged[i].ID {
			t.Errorf("mismatch at %d: %s vs %s", i, full[i].ID, paged[i].ID)
		}
	}
}

func TestGetByIDNotFound(t *testing.T) {
	fc, _ := newTestFacade(t)
	_, err := fc.GetByID("missing")
	if err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetByIDEmptyIsInvalidArgument(t *testing.T) {
	fc, _ := newTestFacade(t)
	_, err := fc.GetByID("")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchFindsBody(t *testing.T) {
	fc, st := newTestFacade(t)
	seedHTTP(t, st, "h1", "http", "GET", 100, 200)
	if err := st.UpdateHTTPResponse("h1", &store.HTTPResponse{StatusCode: 200, Body: "pong"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	seedHTTP(t, st, "h2", "http", "GET", 101, 200)

	rows, err := fc.Search(SearchRequest{Query: "pong"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "h1" {
		t.Errorf("expected [h1], got %+v", rows)
	}
}

func TestAggregateErrorRate(t *testing.T) {
	fc, st := newTestFacade(t)
	seedHTTP(t, st, "h1", "http", "GET", 100, 200)
	seedHTTP(t, st, "h2", "http", "GET", 101, 500)

	stats, err := fc.Aggregate(TimeWindow{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.ErrorRatePercent != 50 {
		t.Errorf("expected 50%% error rate, got %v", stats.ErrorRatePercent)
	}
	if stats.TotalHTTPTransactions != 2 {
		t.Errorf("expected 2 transactions, got %d", stats.TotalHTTPTransactions)
	}
}
