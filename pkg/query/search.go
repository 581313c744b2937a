package query

import (
	"database/sql"
	"fmt"
	"strings"
)

// SearchField enumerates which columns a search may target.
type SearchField string

const (
	FieldURL      SearchField = "url"
	FieldHeaders  SearchField = "headers"
	FieldBody     SearchField = "body"
	FieldResponse SearchField = "response"
)

const searchResultCap = 1000

// SearchRequest describes a full-text search.
type SearchRequest struct {
	Query         string
	Fields        []SearchField
	CaseSensitive bool
	Regex         bool
}

// quoteFTSQuery implements spec.md §4.F's grammar rule: a query containing
// any of .:-@/ is wrapped in double quotes (treated as a literal phrase by
// the FTS grammar); otherwise single and double quotes are escaped by
// doubling and '*' (the FTS prefix operator) is removed.
func quoteFTSQuery(q string) string {
	if strings.ContainsAny(q, ".:-@/") {
		escaped := strings.ReplaceAll(q, `"`, `""`)
		return `"` + escaped + `"`
	}
	r := strings.NewReplacer(`'`, `''`, `"`, `""`, `*`, ``)
	return r.Replace(q)
}

// Search runs the FTS-with-LIKE-fallback search described in spec.md §4.F.
// Regex is only honored in the LIKE path; an FTS attempt is skipped
// entirely when Regex is set.
func (fc *Facade) Search(req SearchRequest) ([]Row, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidArgument)
	}
	if len(req.Fields) == 0 {
		req.Fields = []SearchField{FieldURL, FieldHeaders, FieldBody, FieldResponse}
	}

	if !req.Regex {
		rows, err := fc.searchFTS(req)
		if err == nil && len(rows) > 0 {
			return rows, nil
		}
		// FTS returned zero rows, or threw — fall back to LIKE either way.
	}
	return fc.searchLike(req)
}

func hasField(fields []SearchField, f SearchField) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

func (fc *Facade) searchFTS(req SearchRequest) ([]Row, error) {
	matchExpr := quoteFTSQuery(req.Query)

	var out []Row
	if hasField(req.Fields, FieldURL) || hasField(req.Fields, FieldHeaders) || hasField(req.Fields, FieldBody) || hasField(req.Fields, FieldResponse) {
		rows, err := fc.st.DB().Query(`
			SELECT h.id, h.timestamp, h.scheme, h.method, h.url, h.status_code, h.response_time_ms
			FROM http_traffic_fts f
			JOIN http_traffic h ON h.rowid = f.rowid
			WHERE http_traffic_fts MATCH ?
			ORDER BY rank
			LIMIT ?`, matchExpr, searchResultCap)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
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
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	wsRows, err := fc.st.DB().Query(`
		SELECT w.id, w.timestamp, w.scheme, w.url, w.response_status
		FROM websocket_traffic_fts f
		JOIN websocket_connections w ON w.rowid = f.rowid
		WHERE websocket_traffic_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, matchExpr, searchResultCap)
	if err != nil {
		return out, err
	}
	defer wsRows.Close()
	for wsRows.Next() {
		var r Row
		var status sql.NullInt64
		if err := wsRows.Scan(&r.ID, &r.Timestamp, &r.Scheme, &r.URL, &status); err != nil {
			return out, err
		}
		r.StatusCode = int(status.Int64)
		r.IsWebSocket = true
		out = append(out, r)
	}
	return out, wsRows.Err()
}

func (fc *Facade) searchLike(req SearchRequest) ([]Row, error) {
	pattern := "%" + req.Query + "%"
	likeOp := "LIKE"
	if req.CaseSensitive {
		likeOp = "GLOB"
		pattern = "*" + req.Query + "*"
	}
	if req.Regex {
		likeOp = "REGEXP"
		pattern = req.Query
	}

	var httpCols []string
	if hasField(req.Fields, FieldURL) {
		httpCols = append(httpCols, "url")
	}
	if hasField(req.Fields, FieldHeaders) {
		httpCols = append(httpCols, "request_headers", "response_headers")
	}
	if hasField(req.Fields, FieldBody) {
		httpCols = append(httpCols, "request_body")
	}
	if hasField(req.Fields, FieldResponse) {
		httpCols = append(httpCols, "response_body")
	}

	var out []Row
	if len(httpCols) > 0 {
		var clauses []string
		var args []interface{}
		for _, c := range httpCols {
			clauses = append(clauses, fmt.Sprintf("%s %s ?", c, likeOp))
			args = append(args, pattern)
		}
		q := fmt.Sprintf(`
			SELECT id, timestamp, scheme, method, url, status_code, response_time_ms
			FROM http_traffic WHERE %s LIMIT ?`, strings.Join(clauses, " OR "))
		args = append(args, searchResultCap)
		rows, err := fc.st.DB().Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("search like http: %w", err)
		}
		for rows.Next() {
			var r Row
			var status, rt sql.NullInt64
			if err := rows.Scan(&r.ID, &r.Timestamp, &r.Scheme, &r.Method, &r.URL, &status, &rt); err != nil {
				rows.Close()
				return nil, err
			}
			r.StatusCode = int(status.Int64)
			r.ResponseTime = rt.Int64
			out = append(out, r)
		}
		rows.Close()
	}

	if hasField(req.Fields, FieldURL) || hasField(req.Fields, FieldHeaders) {
		var clauses []string
		var args []interface{}
		if hasField(req.Fields, FieldURL) {
			clauses = append(clauses, fmt.Sprintf("url %s ?", likeOp))
			args = append(args, pattern)
		}
		if hasField(req.Fields, FieldHeaders) {
			clauses = append(clauses, fmt.Sprintf("request_headers %s ?", likeOp))
			args = append(args, pattern)
		}
		q := fmt.Sprintf(`
			SELECT id, timestamp, scheme, url, response_status
			FROM websocket_connections WHERE %s LIMIT ?`, strings.Join(clauses, " OR "))
		args = append(args, searchResultCap)
		rows, err := fc.st.DB().Query(q, args...)
		if err != nil {
			return out, fmt.Errorf("search like ws: %w", err)
		}
		for rows.Next() {
			var r Row
			var status sql.NullInt64
			if err := rows.Scan(&r.ID, &r.Timestamp, &r.Scheme, &r.URL, &status); err != nil {
				rows.Close()
				return out, err
			}
			r.StatusCode = int(status.Int64)
			r.IsWebSocket = true
			out = append(out, r)
		}
		rows.Close()
	}

	return out, nil
}
