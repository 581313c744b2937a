package query

import "database/sql"

// Stats is the aggregate statistics payload for get_traffic_stats.
type Stats struct {
	TotalHTTPTransactions int64
	TotalWSConnections    int64
	TotalWSMessages       int64
	EarliestTimestamp     int64
	LatestTimestamp       int64
	MethodCounts          map[string]int64
	StatusCounts          map[int]int64
	TopHosts              []HostCount
	AverageResponseTimeMs float64
	ErrorRatePercent      float64
	WSProtocolCounts      map[string]int64
	ActiveWSCount         int64
	// AverageMessagesPerConnection keeps the source's semantics: total
	// messages and total connections are both computed over the same time
	// window, even when a message's connection was established outside it
	// (see DESIGN.md Open Question #2).
	AverageMessagesPerConnection float64
}

// HostCount is one entry of the top-10 hosts-by-count list.
type HostCount struct {
	Host  string
	Count int64
}

// TimeWindow optionally bounds an aggregate query; zero values mean
// unbounded on that side.
type TimeWindow struct {
	Start int64
	End   int64
}

func (w TimeWindow) whereClause(col string) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if w.Start != 0 {
		clauses = append(clauses, col+" >= ?")
		args = append(args, w.Start)
	}
	if w.End != 0 {
		clauses = append(clauses, col+" <= ?")
		args = append(args, w.End)
	}
	if len(clauses) == 0 {
		return "", args
	}
	out := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out, args
}

// Aggregate computes the statistics described in spec.md §4.F over an
// optional time window.
func (fc *Facade) Aggregate(w TimeWindow) (*Stats, error) {
	s := &Stats{
		MethodCounts:     map[string]int64{},
		StatusCounts:     map[int]int64{},
		WSProtocolCounts: map[string]int64{},
	}

	where, args := w.whereClause("timestamp")
	db := fc.st.DB()

	if err := db.QueryRow(`SELECT count(*) FROM http_traffic ` + where, args...).Scan(&s.TotalHTTPTransactions); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT count(*) FROM websocket_connections ` + where, args...).Scan(&s.TotalWSConnections); err != nil {
		return nil, err
	}

	wsMsgWhere, wsMsgArgs := w.whereClause("wm.timestamp")
	if err := db.QueryRow(`
		SELECT count(*) FROM websocket_messages wm `+wsMsgWhere, wsMsgArgs...).Scan(&s.TotalWSMessages); err != nil {
		return nil, err
	}

	var earliestHTTP, latestHTTP, earliestWS, latestWS sql.NullInt64
	if err := db.QueryRow(`SELECT min(timestamp), max(timestamp) FROM http_traffic `+where, args...).Scan(&earliestHTTP, &latestHTTP); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT min(timestamp), max(timestamp) FROM websocket_connections `+where, args...).Scan(&earliestWS, &latestWS); err != nil {
		return nil, err
	}
	s.EarliestTimestamp = minNonZero(earliestHTTP.Int64, earliestWS.Int64)
	s.LatestTimestamp = maxVal(latestHTTP.Int64, latestWS.Int64)

	methodRows, err := db.Query(`SELECT method, count(*) FROM http_traffic ` + where + ` GROUP BY method`, args...)
	if err != nil {
		return nil, err
	}
	for methodRows.Next() {
		var m string
		var c int64
		if err := methodRows.Scan(&m, &c); err != nil {
			methodRows.Close()
			return nil, err
		}
		s.MethodCounts[m] = c
	}
	methodRows.Close()
	if err := methodRows.Err(); err != nil {
		return nil, err
	}

	statusWhere := where
	if statusWhere == "" {
		statusWhere = "WHERE status_code IS NOT NULL"
	} else {
		statusWhere += " AND status_code IS NOT NULL"
	}
	statusRows, err := db.Query(`SELECT status_code, count(*) FROM http_traffic `+statusWhere+` GROUP BY status_code`, args...)
	if err != nil {
		return nil, err
	}
	var nonNullStatusTotal, errorStatusTotal int64
	for statusRows.Next() {
		var code int
		var c int64
		if err := statusRows.Scan(&code, &c); err != nil {
			statusRows.Close()
			return nil, err
		}
		s.StatusCounts[code] = c
		nonNullStatusTotal += c
		if code >= 400 {
			errorStatusTotal += c
		}
	}
	statusRows.Close()
	if err := statusRows.Err(); err != nil {
		return nil, err
	}
	if nonNullStatusTotal > 0 {
		s.ErrorRatePercent = 100 * float64(errorStatusTotal) / float64(nonNullStatusTotal)
	}

	hostRows, err := db.Query(`SELECT host, count(*) c FROM http_traffic ` + where + ` GROUP BY host ORDER BY c DESC LIMIT 10`, args...)
	if err != nil {
		return nil, err
	}
	for hostRows.Next() {
		var hc HostCount
		if err := hostRows.Scan(&hc.Host, &hc.Count); err != nil {
			hostRows.Close()
			return nil, err
		}
		s.TopHosts = append(s.TopHosts, hc)
	}
	hostRows.Close()
	if err := hostRows.Err(); err != nil {
		return nil, err
	}

	rtWhere := where
	if rtWhere == "" {
		rtWhere = "WHERE response_time_ms IS NOT NULL"
	} else {
		rtWhere += " AND response_time_ms IS NOT NULL"
	}
	var avgRT sql.NullFloat64
	if err := db.QueryRow(`SELECT avg(response_time_ms) FROM http_traffic `+rtWhere, args...).Scan(&avgRT); err != nil {
		return nil, err
	}
	s.AverageResponseTimeMs = avgRT.Float64

	protoRows, err := db.Query(`SELECT scheme, count(*) FROM websocket_connections ` + where + ` GROUP BY scheme`, args...)
	if err != nil {
		return nil, err
	}
	for protoRows.Next() {
		var scheme string
		var c int64
		if err := protoRows.Scan(&scheme, &c); err != nil {
			protoRows.Close()
			return nil, err
		}
		s.WSProtocolCounts[scheme] = c
	}
	protoRows.Close()
	if err := protoRows.Err(); err != nil {
		return nil, err
	}

	activeWhere := where
	if activeWhere == "" {
		activeWhere = "WHERE closed_at IS NULL"
	} else {
		activeWhere += " AND closed_at IS NULL"
	}
	if err := db.QueryRow(`SELECT count(*) FROM websocket_connections `+activeWhere, args...).Scan(&s.ActiveWSCount); err != nil {
		return nil, err
	}

	if s.TotalWSConnections > 0 {
		s.AverageMessagesPerConnection = float64(s.TotalWSMessages) / float64(s.TotalWSConnections)
	}

	return s, nil
}

func minNonZero(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func maxVal(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
