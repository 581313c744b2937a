// Package query is the thin read-only façade over the store: filtered
// list, point lookup, full-text search with LIKE fallback, and aggregate
// statistics.
package query

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/proxymcpd/proxymcpd/pkg/store"
)

// ErrInvalidArgument signals a caller mistake caught before any query ran.
var ErrInvalidArgument = fmt.Errorf("query: invalid argument")

// Facade is a reader over a *store.Store.
type Facade struct {
	st *store.Store
}

// New wraps a store for read access.
func New(st *store.Store) *Facade {
	return &Facade{st: st}
}

// Scheme enumerates the four protocols a filter can select.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeWS    Scheme = "ws"
	SchemeWSS   Scheme = "wss"
)

// SortField enumerates the fields result sets may be ordered by.
type SortField string

const (
	SortTimestamp    SortField = "timestamp"
	SortURL          SortField = "url"
	SortMethod       SortField = "method"
	SortStatus       SortField = "status"
	SortResponseTime SortField = "responseTime"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Filter describes a filtered list query. The zero value matches
// everything, paginated with the defaults.
type Filter struct {
	HostContains   string
	Method         string
	PathContains   string
	StatusCode     int // 0 = unset
	StartTime      int64
	EndTime        int64 // 0 = unset (no upper bound)
	MinResponseMs  int64
	MaxResponseMs  int64 // 0 = unset
	Scheme         Scheme
	ConnectionOpen *bool // WS only: true=active, false=closed, nil=either

	Limit  int
	Offset int
	SortBy SortField
	Desc   bool
}

// Row is a denormalized result row, covering both HTTP and WS hits so the
// union path can sort them together.
type Row struct {
	ID           string
	Timestamp    int64
	Scheme       string
	Method       string // empty for WS rows
	URL          string
	StatusCode   int    // 0 if none (WS: mirrors response_status)
	ResponseTime int64  // ms; 0 if none
	IsWebSocket  bool
}

func (f *Filter) normalize() error {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0", ErrInvalidArgument)
	}
	if f.SortBy == "" {
		f.SortBy = SortTimestamp
	}
	switch f.Scheme {
	case "", SchemeHTTP, SchemeHTTPS, SchemeWS, SchemeWSS:
	default:
		return fmt.Errorf("%w: unknown scheme %q", ErrInvalidArgument, f.Scheme)
	}
	return nil
}

// List runs the filtered list query. Protocol filtering happens in SQL; if
// Scheme is unset both tables are queried and the union is re-sorted in
// memory before limit/offset is applied — O(n) on the combined set, but
// correct (the source's own behavior, preserved per spec.md §9).
func (f Filter) List(fc *Facade) ([]Row, error) {
	if err := f.normalize(); err != nil {
		return nil, err
	}

	switch f.Scheme {
	case SchemeHTTP, SchemeHTTPS:
		return fc.listHTTP(f)
	case SchemeWS, SchemeWSS:
		return fc.listWS(f)
	default:
		httpRows, err := fc.listHTTPUnbounded(f)
		if err != nil {
			return nil, err
		}
		wsRows, err := fc.listWSUnbounded(f)
		if err != nil {
			return nil, err
		}
		all := append(httpRows, wsRows...)
		sortRows(all, f.SortBy, f.Desc)
		return paginate(all, f.Offset, f.Limit), nil
	}
}

func sortRows(rows []Row, by SortField, desc bool) {
	lessAsc := func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch by {
		case SortURL:
			return a.URL < b.URL
		case SortMethod:
			return a.Method < b.Method
		case SortStatus:
			return a.StatusCode < b.StatusCode
		case SortResponseTime:
			return a.ResponseTime < b.ResponseTime
		default:
			return a.Timestamp < b.Timestamp
		}
	}
	if desc {
		sort.SliceStable(rows, func(i, j int) bool { return lessAsc(j, i) })
		return
	}
	sort.SliceStable(rows, lessAsc)
}

func paginate(rows []Row, offset, limit int) []Row {
	if offset >= len(rows) {
		return []Row{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func orderClause(by SortField, desc, isWS bool) string {
	col := "timestamp"
	switch by {
	case SortURL:
		col = "url"
	case SortMethod:
		if !isWS {
			col = "method"
		}
	case SortStatus:
		if isWS {
			col = "response_status"
		} else {
			col = "status_code"
		}
	case SortResponseTime:
		if !isWS {
			col = "response_time_ms"
		}
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s", col, dir)
}

func (fc *Facade) listHTTP(f Filter) ([]Row, error) {
	where, args := httpWhere(f)
	q := fmt.Sprintf(`
		SELECT id, timestamp, scheme, method, url, status_code, response_time_ms
		FROM http_traffic %s %s LIMIT ? OFFSET ?`, where, orderClause(f.SortBy, f.Desc, false))
	args = append(args, f.Limit, f.Offset)
	return fc.queryHTTPRows(q, args)
}

func (fc *Facade) listHTTPUnbounded(f Filter) ([]Row, error) {
	where, args := httpWhere(f)
	q := fmt.Sprintf(`SELECT id, timestamp, scheme, method, url, status_code, response_time_ms FROM http_traffic %s`, where)
	return fc.queryHTTPRows(q, args)
}

func (fc *Facade) queryHTTPRows(q string, args []interface{}) ([]Row, error) {
	rows, err := fc.st.DB().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query http: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var status, rt sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Scheme, &r.Method, &r.URL, &status, &rt); err != nil {
			return nil, err
		}
		r.StatusCode = int(status.Int64)
		r.ResponseTime = rt.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

func httpWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Scheme == SchemeHTTP || f.Scheme == SchemeHTTPS {
		clauses = append(clauses, "scheme = ?")
		args = append(args, string(f.Scheme))
	}
	if f.HostContains != "" {
		clauses = append(clauses, "host LIKE ?")
		args = append(args, "%"+f.HostContains+"%")
	}
	if f.Method != "" {
		clauses = append(clauses, "method = ?")
		args = append(args, f.Method)
	}
	if f.PathContains != "" {
		clauses = append(clauses, "path LIKE ?")
		args = append(args, "%"+f.PathContains+"%")
	}
	if f.StatusCode != 0 {
		clauses = append(clauses, "status_code = ?")
		args = append(args, f.StatusCode)
	}
	if f.StartTime != 0 {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.StartTime)
	}
	if f.EndTime != 0 {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.EndTime)
	}
	if f.MinResponseMs != 0 {
		clauses = append(clauses, "response_time_ms >= ?")
		args = append(args, f.MinResponseMs)
	}
	if f.MaxResponseMs != 0 {
		clauses = append(clauses, "response_time_ms <= ?")
		args = append(args, f.MaxResponseMs)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (fc *Facade) listWS(f Filter) ([]Row, error) {
	where, args := wsWhere(f)
	q := fmt.Sprintf(`
		SELECT id, timestamp, scheme, url, response_status
		FROM websocket_connections %s %s LIMIT ? OFFSET ?`, where, orderClause(f.SortBy, f.Desc, true))
	args = append(args, f.Limit, f.Offset)
	return fc.queryWSRows(q, args)
}

func (fc *Facade) listWSUnbounded(f Filter) ([]Row, error) {
	where, args := wsWhere(f)
	q := fmt.Sprintf(`SELECT id, timestamp, scheme, url, response_status FROM websocket_connections %s`, where)
	return fc.queryWSRows(q, args)
}

func (fc *Facade) queryWSRows(q string, args []interface{}) ([]Row, error) {
	rows, err := fc.st.DB().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ws: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var status sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Scheme, &r.URL, &status); err != nil {
			return nil, err
		}
		r.StatusCode = int(status.Int64)
		r.IsWebSocket = true
		out = append(out, r)
	}
	return out, rows.Err()
}

func wsWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Scheme == SchemeWS || f.Scheme == SchemeWSS {
		clauses = append(clauses, "scheme = ?")
		args = append(args, string(f.Scheme))
	}
	if f.HostContains != "" {
		clauses = append(clauses, "host LIKE ?")
		args = append(args, "%"+f.HostContains+"%")
	}
	if f.StartTime != 0 {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.StartTime)
	}
	if f.EndTime != 0 {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.EndTime)
	}
	if f.ConnectionOpen != nil {
		if *f.ConnectionOpen {
			clauses = append(clauses, "closed_at IS NULL")
		} else {
			clauses = append(clauses, "closed_at IS NOT NULL")
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Detail is the point-lookup result: exactly one of HTTP/WebSocket is set.
type Detail struct {
	HTTP        *store.HTTPTransaction
	WebSocket   *store.WebSocketConnection
	WSMessages  []store.WebSocketMessage
}

// GetByID looks up the HTTP table first; on a miss, looks up WebSocket and
// — only for a hit — materializes its messages with a follow-up query.
func (fc *Facade) GetByID(id string) (*Detail, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id must not be empty", ErrInvalidArgument)
	}

	txn, err := fc.st.GetHTTPTransaction(id)
	if err == nil {
		return &Detail{HTTP: txn}, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	conn, err := fc.st.GetWebSocketConnection(id)
	if err != nil {
		return nil, err
	}
	msgs, err := fc.st.GetWebSocketMessages(id)
	if err != nil {
		return nil, err
	}
	return &Detail{WebSocket: conn, WSMessages: msgs}, nil
}
