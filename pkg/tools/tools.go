// Package tools is the typed operation façade called by the out-of-scope
// JSON-RPC dispatcher. It contains no transport or protocol code: each
// function validates its own arguments (InvalidArgument before touching
// any other component) and delegates to pkg/intercept, pkg/query,
// pkg/store, pkg/health, or pkg/ca.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/proxymcpd/proxymcpd/pkg/ca"
	"github.com/proxymcpd/proxymcpd/pkg/health"
	"github.com/proxymcpd/proxymcpd/pkg/intercept"
	"github.com/proxymcpd/proxymcpd/pkg/query"
	"github.com/proxymcpd/proxymcpd/pkg/store"
)

// ErrInvalidArgument signals a caller mistake caught before any other
// component is touched.
var ErrInvalidArgument = errors.New("tools: invalid argument")

// ToolResult is the uniform envelope every operation returns.
type ToolResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(msg string, data interface{}) ToolResult {
	return ToolResult{Success: true, Message: msg, Data: data}
}

func fail(err error) ToolResult {
	return ToolResult{Success: false, Message: err.Error()}
}

// Facade wires the typed operations against one running system.
type Facade struct {
	Engine     *intercept.Engine
	Supervisor *health.Supervisor
	CA         *ca.CA
	Query      *query.Facade
	Store      *store.Store

	// ListenAddr is the address StartProxy binds, e.g. "0.0.0.0:8080".
	ListenAddr string
}

// StartProxy starts the interception engine if it is not already running.
func (f *Facade) StartProxy(ctx context.Context) ToolResult {
	if f.Engine.Running() {
		return ok("proxy already running", nil)
	}
	if err := f.Engine.Start(f.ListenAddr); err != nil {
		return fail(fmt.Errorf("start proxy: %w", err))
	}
	if f.Supervisor != nil {
		f.Supervisor.Start()
	}
	return ok("proxy started", nil)
}

// StopProxy stops the interception engine.
func (f *Facade) StopProxy(ctx context.Context) ToolResult {
	if !f.Engine.Running() {
		return ok("proxy already stopped", nil)
	}
	if f.Supervisor != nil {
		f.Supervisor.Stop()
	}
	if err := f.Engine.Stop(ctx); err != nil {
		return fail(fmt.Errorf("stop proxy: %w", err))
	}
	return ok("proxy stopped", nil)
}

// RestartProxy stops then starts the engine.
func (f *Facade) RestartProxy(ctx context.Context) ToolResult {
	if res := f.StopProxy(ctx); !res.Success {
		return res
	}
	return f.StartProxy(ctx)
}

// ProxyStatus is the GetProxyStatus payload.
type ProxyStatus struct {
	Running           bool  `json:"running"`
	TotalRequests     int64 `json:"totalRequests"`
	TotalWSConns      int64 `json:"totalWsConnections"`
	ActiveConnections int64 `json:"activeConnections"`
}

// GetProxyStatus reports whether the engine is running and its counters.
func (f *Facade) GetProxyStatus() ToolResult {
	snap := f.Engine.Stats()
	return ok("", ProxyStatus{
		Running:           f.Engine.Running(),
		TotalRequests:     snap.TotalRequests,
		TotalWSConns:      snap.TotalWSConns,
		ActiveConnections: snap.ActiveConns,
	})
}

// GetHealthStatus reports the supervisor's current computed state.
func (f *Facade) GetHealthStatus() ToolResult {
	if f.Supervisor == nil {
		return fail(fmt.Errorf("%w: health supervisor not configured", ErrInvalidArgument))
	}
	return ok("", f.Supervisor.Status())
}

// CACertificate is the GetCACertificate payload: the PEM-encoded CA
// certificate, suitable for installing into a client trust store.
type CACertificate struct {
	CertPEM string `json:"certPem"`
}

// GetCACertificate returns the generated CA's certificate in PEM form.
func (f *Facade) GetCACertificate() ToolResult {
	if f.CA == nil {
		return fail(fmt.Errorf("%w: HTTPS interception is not enabled", ErrInvalidArgument))
	}
	return ok("", CACertificate{CertPEM: string(f.CA.CertPEM())})
}

// QueryArgs mirrors query.Filter field-for-field, at the tools boundary so
// callers don't need to import pkg/query directly.
type QueryArgs struct {
	Host          string
	Method        string
	Path          string
	StatusCode    int
	StartTime     int64
	EndTime       int64
	MinResponseMs int64
	MaxResponseMs int64
	Scheme        string
	Active        *bool
	Limit         int
	Offset        int
	SortBy        string
	Desc          bool
}

// QueryTraffic runs the filtered list query.
func (f *Facade) QueryTraffic(args QueryArgs) ToolResult {
	filter := query.Filter{
		HostContains:   args.Host,
		Method:         args.Method,
		PathContains:   args.Path,
		StatusCode:     args.StatusCode,
		StartTime:      args.StartTime,
		EndTime:        args.EndTime,
		MinResponseMs:  args.MinResponseMs,
		MaxResponseMs:  args.MaxResponseMs,
		Scheme:         query.Scheme(args.Scheme),
		ConnectionOpen: args.Active,
		Limit:          args.Limit,
		Offset:         args.Offset,
		SortBy:         query.SortField(args.SortBy),
		Desc:           args.Desc,
	}
	rows, err := filter.List(f.Query)
	if err != nil {
		return toolFailFromQueryErr(err)
	}
	return ok("", rows)
}

// GetRequestDetails performs the point lookup by id.
func (f *Facade) GetRequestDetails(id string) ToolResult {
	detail, err := f.Query.GetByID(id)
	if err != nil {
		return toolFailFromQueryErr(err)
	}
	return ok("", detail)
}

// SearchArgs mirrors query.SearchRequest at the tools boundary.
type SearchArgs struct {
	Query         string
	Fields        []string
	CaseSensitive bool
	Regex         bool
}

// SearchTraffic runs the full-text search with LIKE fallback.
func (f *Facade) SearchTraffic(args SearchArgs) ToolResult {
	fields := make([]query.SearchField, 0, len(args.Fields))
	for _, fld := range args.Fields {
		fields = append(fields, query.SearchField(fld))
	}
	rows, err := f.Query.Search(query.SearchRequest{
		Query:         args.Query,
		Fields:        fields,
		CaseSensitive: args.CaseSensitive,
		Regex:         args.Regex,
	})
	if err != nil {
		return toolFailFromQueryErr(err)
	}
	return ok("", rows)
}

// GetWebSocketMessages returns the message history for one connection,
// via the same point-lookup path get_request_details uses.
func (f *Facade) GetWebSocketMessages(connectionID string) ToolResult {
	detail, err := f.Query.GetByID(connectionID)
	if err != nil {
		return toolFailFromQueryErr(err)
	}
	if detail.WebSocket == nil {
		return fail(fmt.Errorf("%w: %s is not a WebSocket connection", ErrInvalidArgument, connectionID))
	}
	return ok("", detail.WSMessages)
}

// GetTrafficStats computes the aggregate statistics, optionally windowed.
func (f *Facade) GetTrafficStats(start, end int64) ToolResult {
	stats, err := f.Query.Aggregate(query.TimeWindow{Start: start, End: end})
	if err != nil {
		return toolFailFromQueryErr(err)
	}
	return ok("", stats)
}

// ClearAllLogs deletes every captured row. Requires explicit confirm to
// guard against an accidental wipe.
func (f *Facade) ClearAllLogs(confirm bool) ToolResult {
	if !confirm {
		return fail(fmt.Errorf("%w: confirm must be true to clear all logs", ErrInvalidArgument))
	}
	if err := f.Store.DeleteAll(); err != nil {
		return fail(fmt.Errorf("clear all logs: %w", err))
	}
	return ok("all logs cleared", nil)
}

// ClearLogsByTimerange deletes rows whose timestamp falls in [start, end].
// Implemented as a genuine ranged delete, not the source's
// year-2000-cutoff degeneration (see DESIGN.md open question #3).
func (f *Facade) ClearLogsByTimerange(start, end int64) ToolResult {
	if start > end {
		return fail(fmt.Errorf("%w: start must not be after end", ErrInvalidArgument))
	}
	if err := f.Store.DeleteRange(start, end); err != nil {
		return fail(fmt.Errorf("clear logs by timerange: %w", err))
	}
	return ok("logs in range cleared", nil)
}

// CleanupOldLogs deletes rows older than the given retention window.
func (f *Facade) CleanupOldLogs(retentionDays int) ToolResult {
	if retentionDays <= 0 {
		return fail(fmt.Errorf("%w: retentionDays must be positive", ErrInvalidArgument))
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
	if err := f.Store.DeleteBefore(cutoff); err != nil {
		return fail(fmt.Errorf("cleanup old logs: %w", err))
	}
	return ok("old logs cleaned up", nil)
}

// VacuumDatabase compacts the database file.
func (f *Facade) VacuumDatabase() ToolResult {
	if err := f.Store.Vacuum(); err != nil {
		return fail(fmt.Errorf("vacuum database: %w", err))
	}
	return ok("database vacuumed", nil)
}

func toolFailFromQueryErr(err error) ToolResult {
	if errors.Is(err, query.ErrInvalidArgument) || errors.Is(err, store.ErrNotFound) {
		return fail(err)
	}
	return fail(fmt.Errorf("query: %w", err))
}
