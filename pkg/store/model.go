// Package store is the embedded relational persistence engine: a SQLite
// database with content-backed full-text virtual tables kept coherent by
// triggers, a time-range/filter query path, and retention/vacuum
// maintenance.
package store

// HeaderPair is one header name/value occurrence. Headers are carried as an
// ordered slice rather than a map so that duplicate names and original
// case are preserved across the capture-to-query round trip.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is the dual representation required by the data model: an
// ordered sequence (for fidelity) plus a map view (for convenient lookup).
type Headers []HeaderPair

// Map collapses Headers into a map view. When a name repeats, the last
// occurrence wins, matching how most HTTP libraries expose "the" header
// value for a multi-valued header.
func (h Headers) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, p := range h {
		m[p.Name] = p.Value
	}
	return m
}

// Get returns the first value for name (case-sensitive), or "" if absent.
func (h Headers) Get(name string) string {
	for _, p := range h {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// HTTPResponse is the response sub-record of an HttpTransaction. It is nil
// until the paired response arrives.
type HTTPResponse struct {
	StatusCode      int
	StatusMessage   string
	Headers         Headers
	Body            string // BodyPayload.String() form
	ResponseSize    int64
	ResponseTimeMs  int64
}

// HTTPTransaction is one row of http_traffic: request always present,
// response present only once the paired response has arrived.
type HTTPTransaction struct {
	ID             string
	Timestamp      int64 // ms since epoch
	Method         string
	URL            string
	Host           string
	Path           string
	Query          string
	Scheme         string // "http" | "https"
	RequestHeaders Headers
	RequestBody    string // BodyPayload.String() form
	RequestSize    int64
	ContentType    string
	UserAgent      string
	ClientAddr     string
	UpstreamAddr   string
	ErrorMessage   string

	Response *HTTPResponse
}

// ConnectionLifecycle tracks a WebSocket connection's open/close bookkeeping.
type ConnectionLifecycle struct {
	EstablishedAt int64
	ClosedAt      int64 // 0 means not yet closed
	CloseCode     int
	CloseReason   string
}

// WebSocketConnection is one row of websocket_connections.
type WebSocketConnection struct {
	ID                string
	Timestamp         int64
	URL               string
	Host              string
	Scheme            string // "ws" | "wss"
	RequestHeaders    Headers
	ResponseStatus    int
	ResponseHeaders   Headers
	Lifecycle         ConnectionLifecycle
	ClientAddr        string
	Destination       string
}

// WebSocketMessage is one row of websocket_messages, appended only.
type WebSocketMessage struct {
	ID           int64
	ConnectionID string
	Timestamp    int64
	Direction    string // "inbound" | "outbound"
	Type         string // "text" | "binary" | "ping" | "pong" | "close"
	Payload      string // BodyPayload.String() form
	ByteSize     int64
}
