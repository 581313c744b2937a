// Package intercept implements the interception engine: the HTTP/HTTPS
// MITM pathway, WebSocket frame tunneling, request/response correlation,
// and the capture pipeline wiring that turns live traffic into Store rows.
package intercept

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/proxymcpd/proxymcpd/pkg/body"
	"github.com/proxymcpd/proxymcpd/pkg/ca"
	"github.com/proxymcpd/proxymcpd/pkg/store"
)

const (
	defaultShutdownGrace = 5 * time.Second
	wsHandshakeTimeout   = 10 * time.Second
)

// Config configures a new Engine.
type Config struct {
	CA       *ca.CA
	LeafTTL  time.Duration
	Store    *store.Store
	Log      zerolog.Logger

	EnableHTTPS              bool
	EnableWebSockets         bool
	IgnoreHostHTTPSErrors    bool
	CaptureHeaders           bool
	CaptureBody              bool
	CaptureWebSocketMessages bool
	MaxBodySize              int64
}

// Engine is the interception engine: one goproxy server for plain HTTP
// proxying, plus hand-rolled CONNECT/TLS-MITM and WebSocket tunneling for
// everything goproxy's request/response model can't hijack.
type Engine struct {
	cfg       Config
	log       zerolog.Logger
	proxy     *goproxy.ProxyHttpServer
	transport *http.Transport
	leaves    *ca.LeafCache
	store     *store.Store
	pipeline  *body.Pipeline
	dns       *dnsCache
	corr      *correlationMap
	stats     Stats

	httpServer *http.Server
	running    atomic.Bool
}

// legCtx is the per-request bookkeeping stashed between the request and
// response capture hooks (and threaded manually through the CONNECT loop).
type legCtx struct {
	internalID string
	startedAt  time.Time
	leg        *leg
}

// New builds an Engine. cfg.Store must be non-nil; cfg.CA must be non-nil
// when HTTPS interception is enabled.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("intercept: Store is required")
	}
	if cfg.EnableHTTPS && cfg.CA == nil {
		return nil, errors.New("intercept: CA is required when HTTPS interception is enabled")
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1024 * 1024
	}

	e := &Engine{
		cfg:       cfg,
		log:       cfg.Log,
		proxy:     goproxy.NewProxyHttpServer(),
		transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.IgnoreHostHTTPSErrors}}, //nolint:gosec
		store:     cfg.Store,
		pipeline:  body.NewPipeline(cfg.MaxBodySize),
		dns:       newDNSCache(),
		corr:      newCorrelationMap(),
	}
	if cfg.CA != nil {
		e.leaves = ca.NewLeafCache(cfg.LeafTTL)
	}

	e.proxy.Verbose = false
	e.proxy.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		lc, err := e.startTransaction(req)
		if err != nil {
			e.log.Warn().Err(err).Msg("failed to start transaction capture")
			return req, nil
		}
		ctx.UserData = lc
		return req, nil
	})
	e.proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		lc, ok := ctx.UserData.(*legCtx)
		if !ok || lc == nil {
			return resp
		}
		e.finishTransaction(lc, resp, ctx.Error)
		return resp
	})

	return e, nil
}

// Stats returns a snapshot of the engine's atomic counters.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }

// Running reports the engine's self-reported run flag, read by the health
// supervisor's storage-writability probe per spec.md §4.E.
func (e *Engine) Running() bool { return e.running.Load() }

// Start begins listening on addr. It returns once the listener is bound;
// ListenAndServe errors after that point are observable only via Stop's
// drain or process logs, matching net/http.Server's own contract.
func (e *Engine) Start(addr string) error {
	e.httpServer = &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("intercept: listen %s: %w", addr, err)
	}
	e.running.Store(true)
	go func() {
		if err := e.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error().Err(err).Msg("engine listener stopped")
		}
	}()
	return nil
}

// Stop drains in-flight transactions for up to the grace period, then force
// closes, clears the correlation map, and marks the engine not-running.
func (e *Engine) Stop(ctx context.Context) error {
	defer func() {
		e.corr.Clear()
		e.running.Store(false)
	}()
	if e.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownGrace)
	defer cancel()
	if err := e.httpServer.Shutdown(shutdownCtx); err != nil {
		return e.httpServer.Close()
	}
	return nil
}

// ServeHTTP dispatches CONNECT to the MITM pathway, plain WebSocket
// upgrades to the tunnel pathway, and everything else to goproxy's own
// plain-HTTP proxying (which drives the request/response capture hooks
// registered in New).
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodConnect:
		if !e.cfg.EnableHTTPS {
			http.Error(w, "HTTPS interception disabled", http.StatusForbidden)
			return
		}
		e.handleConnect(w, r)
	case e.cfg.EnableWebSockets && isWebSocketUpgrade(r.Header):
		e.handlePlainWebSocket(w, r)
	default:
		e.proxy.ServeHTTP(w, r)
	}
}

func isWebSocketUpgrade(h http.Header) bool {
	return strings.EqualFold(h.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(h.Get("Connection")), "upgrade")
}

// startTransaction captures the request half of an HTTP transaction and
// stores a response-less row, registering it in the correlation map under
// a fresh internal id (the plain-HTTP path has no upstream-engine id to key
// on).
func (e *Engine) startTransaction(req *http.Request) (*legCtx, error) {
	internalID := uuid.NewString()
	started := time.Now()
	l := newLeg(internalID)
	l.transition(HeadersParsed)

	host := ParseHost(req.Host)
	if host == "" {
		host = req.URL.Hostname()
	}
	destination, ok := e.dns.Resolve(req.Context(), host)
	if !ok {
		destination = "unknown"
	}

	scheme := req.URL.Scheme
	if scheme == "" {
		if req.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	txn := &store.HTTPTransaction{
		ID:           internalID,
		Timestamp:    started.UnixMilli(),
		Method:       req.Method,
		URL:          req.URL.String(),
		Host:         host,
		Path:         req.URL.Path,
		Query:        req.URL.RawQuery,
		Scheme:       scheme,
		ClientAddr:   req.RemoteAddr,
		UpstreamAddr: destination,
		UserAgent:    req.Header.Get("User-Agent"),
		ContentType:  req.Header.Get("Content-Type"),
	}
	if e.cfg.CaptureHeaders {
		txn.RequestHeaders = headersFromHTTP(req.Header)
	}
	if e.cfg.CaptureBody && req.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(req.Body, e.cfg.MaxBodySize))
		if err == nil {
			req.Body = io.NopCloser(bytes.NewReader(raw))
			txn.RequestSize = int64(len(raw))
			payload := e.pipeline.Process(raw, txn.ContentType, req.Header.Get("Content-Encoding"))
			txn.RequestBody = payload.String()
			if payload.DecodeError != nil {
				txn.ErrorMessage = "DecodingError: " + payload.DecodeError.Error()
			}
		}
	}

	l.transition(UpstreamConnected)
	if err := e.store.StoreHTTPTransaction(txn); err != nil {
		return nil, err
	}
	e.stats.incRequests()
	e.stats.connOpened()

	lc := &legCtx{internalID: internalID, startedAt: started, leg: l}
	e.corr.Put(internalID, internalID, started)
	return lc, nil
}

// finishTransaction captures the response half and resolves the
// correlation entry. roundTripErr, when set, means no response arrived and
// the transaction is finalized as an UpstreamError.
func (e *Engine) finishTransaction(lc *legCtx, resp *http.Response, roundTripErr error) {
	defer e.stats.connClosed()
	entry, ok := e.corr.Resolve(lc.internalID, lc.internalID)
	if !ok {
		e.log.Warn().Str("internal_id", lc.internalID).Msg("dropping response with no correlation match")
		return
	}

	if roundTripErr != nil || resp == nil {
		lc.leg.transition(UpstreamError)
		msg := "no response"
		if roundTripErr != nil {
			msg = roundTripErr.Error()
		}
		_ = e.store.UpdateHTTPError(entry.internalID, msg)
		return
	}

	lc.leg.transition(ResponseStreaming)
	respRecord := &store.HTTPResponse{
		StatusCode:     resp.StatusCode,
		StatusMessage:  resp.Status,
		ResponseTimeMs: time.Since(entry.startedAt).Milliseconds(),
	}
	if e.cfg.CaptureHeaders {
		respRecord.Headers = headersFromHTTP(resp.Header)
	}
	if e.cfg.CaptureBody && resp.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodySize))
		if err == nil {
			resp.Body = io.NopCloser(bytes.NewReader(raw))
			respRecord.ResponseSize = int64(len(raw))
			payload := e.pipeline.Process(raw, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"))
			respRecord.Body = payload.String()
		}
	}

	if err := e.store.UpdateHTTPResponse(entry.internalID, respRecord); err != nil {
		e.log.Warn().Err(err).Str("internal_id", entry.internalID).Msg("failed to store response")
	}
	lc.leg.transition(Done)
}

func headersFromHTTP(h http.Header) store.Headers {
	out := make(store.Headers, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, store.HeaderPair{Name: name, Value: v})
		}
	}
	return out
}

// handleConnect establishes a TLS-MITM tunnel for a CONNECT request and
// serves decrypted HTTP/1.1 requests off it directly, since goproxy's own
// request/response hooks have no hijack access for the WebSocket pathway
// that may appear on the same tunnel.
func (e *Engine) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	host := ParseHost(r.Host)
	tlsConn := tls.Server(clientConn, &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			sni := hello.ServerName
			if sni == "" {
				sni = host
			}
			return e.leaves.GetOrIssue(e.cfg.CA, sni)
		},
	})
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		e.log.Debug().Err(err).Str("host", host).Msg("TLS handshake with client failed")
		return
	}

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		req.URL.Scheme = "https"
		if req.URL.Host == "" {
			req.URL.Host = r.Host
		}
		if req.Host == "" {
			req.Host = r.Host
		}
		req.RemoteAddr = r.RemoteAddr

		if e.cfg.EnableWebSockets && isWebSocketUpgrade(req.Header) {
			e.tunnelWebSocket(tlsConn, req)
			return
		}

		keepAlive := !strings.EqualFold(req.Header.Get("Connection"), "close") && req.ProtoAtLeast(1, 1)

		lc, startErr := e.startTransaction(req)
		if startErr != nil {
			e.log.Warn().Err(startErr).Msg("failed to start MITM transaction capture")
			return
		}
		resp, rtErr := e.transport.RoundTrip(req)
		e.finishTransaction(lc, resp, rtErr)
		if rtErr != nil {
			return
		}
		if !keepAlive {
			resp.Close = true
		}
		if err := resp.Write(tlsConn); err != nil {
			resp.Body.Close()
			return
		}
		resp.Body.Close()
		if !keepAlive {
			return
		}
	}
}

// handlePlainWebSocket handles a ws:// upgrade arriving without a CONNECT
// wrapper (i.e. not behind TLS-MITM).
func (e *Engine) handlePlainWebSocket(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()
	r.URL.Scheme = "ws"
	if r.URL.Host == "" {
		r.URL.Host = r.Host
	}
	e.tunnelWebSocket(clientConn, r)
}

// tunnelWebSocket performs the upstream handshake and, on a successful 101,
// tunnels frames until either side closes. clientConn is closed by the
// caller's defer: handleConnect's for the CONNECT path, handlePlainWebSocket's
// for the plain-ws entry point.
func (e *Engine) tunnelWebSocket(clientConn net.Conn, req *http.Request) {
	wsScheme := "ws"
	dialHost := req.URL.Host
	if dialHost == "" {
		dialHost = req.Host
	}
	if req.URL.Scheme == "https" || req.URL.Scheme == "wss" {
		wsScheme = "wss"
	}

	upstreamConn, err := e.dialWebSocketUpstream(req.Context(), wsScheme, dialHost)
	if err != nil {
		e.log.Warn().Err(err).Str("host", dialHost).Msg("websocket upstream dial failed")
		fmt.Fprint(clientConn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstreamConn.Close()

	if err := req.Write(upstreamConn); err != nil {
		return
	}

	upstreamReader := bufio.NewReader(upstreamConn)
	resp, err := http.ReadResponse(upstreamReader, req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	connectionID := uuid.NewString()
	host := ParseHost(req.Host)
	conn := &store.WebSocketConnection{
		ID:             connectionID,
		Timestamp:      time.Now().UnixMilli(),
		URL:            req.URL.String(),
		Host:           host,
		Scheme:         wsScheme,
		ResponseStatus: resp.StatusCode,
		ClientAddr:     req.RemoteAddr,
		Destination:    dialHost,
		Lifecycle:      store.ConnectionLifecycle{EstablishedAt: time.Now().UnixMilli()},
	}
	if e.cfg.CaptureHeaders {
		conn.RequestHeaders = headersFromHTTP(req.Header)
		conn.ResponseHeaders = headersFromHTTP(resp.Header)
	}

	if err := resp.Write(clientConn); err != nil {
		return
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return
	}

	if err := e.store.StoreWebSocketUpgrade(conn); err != nil {
		e.log.Warn().Err(err).Msg("failed to store websocket upgrade")
		return
	}
	e.stats.incWSConns()
	e.stats.connOpened()
	defer e.stats.connClosed()

	t := newTunnel(e.store, e.pipeline, connectionID, e.log, e.cfg.CaptureWebSocketMessages)
	t.Run(clientConn, upstreamConn)
}

func (e *Engine) dialWebSocketUpstream(ctx context.Context, scheme, hostport string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsHandshakeTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	if scheme == "wss" {
		return tls.DialWithDialer(dialer, "tcp", ensurePort(hostport, "443"), &tls.Config{InsecureSkipVerify: e.cfg.IgnoreHostHTTPSErrors}) //nolint:gosec
	}
	return dialer.DialContext(dialCtx, "tcp", ensurePort(hostport, "80"))
}

func ensurePort(hostport, defaultPort string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(hostport, defaultPort)
}
