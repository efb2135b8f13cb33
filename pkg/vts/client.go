// Package vts implements a client for the VTube Studio public API, the
// puppeteering host that renders the avatar.
//
// A [Client] owns exactly one authenticated WebSocket session. [Client.Connect]
// dials the host, probes its state, authenticates (reusing a cached token when
// the host still accepts it, otherwise requesting a fresh one and persisting
// it), and optionally discovers which input parameters drive mouth openness
// and mouth shape. After that, [Client.Send] injects parameter values and
// [Client.Trigger] fires hotkeys. [Client.Close] is best-effort and bounded.
//
// Every request carries a monotonically increasing ID. One receive loop per
// connection reads on a session-lifetime context and hands each response to
// the request waiting for its ID, so a request that times out is abandoned
// without tearing the connection down and its late answer is discarded.
// Calls are serialised internally but never pipelined.
package vts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned by request methods before Connect succeeds
	// or after Close.
	ErrNotConnected = errors.New("vts: not connected")

	// ErrAuthFailed is returned by Connect when neither the cached token nor
	// a freshly issued one authenticates the session.
	ErrAuthFailed = errors.New("vts: authentication failed")

	// ErrNoAmplitudeParam is returned by Connect when amplitude parameters
	// were requested but none of them exists on the host.
	ErrNoAmplitudeParam = errors.New("vts: no matching amplitude parameter")
)

const (
	defaultURL            = "ws://127.0.0.1:8001"
	defaultRequestTimeout = 2 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultCloseTimeout   = 3 * time.Second
	defaultReadLimit      = 1 << 20
)

// Config configures a [Client].
type Config struct {
	// URL is the host's WebSocket endpoint. Default: ws://127.0.0.1:8001.
	URL string

	// PluginName and PluginDeveloper identify the client to the host. The
	// host issues tokens per plugin name.
	PluginName      string
	PluginDeveloper string

	// Tokens caches the authentication token. Nil disables caching.
	Tokens TokenStore

	// AmplitudeParams lists candidate parameter names for mouth openness in
	// priority order. When empty, Connect skips parameter discovery.
	AmplitudeParams []string

	// ShapeParams lists candidate parameter names for mouth shape in
	// priority order. Optional.
	ShapeParams []string

	// RequestTimeout bounds each request/response round trip. Default: 2s.
	RequestTimeout time.Duration

	// ConnectTimeout bounds the whole Connect handshake. Default: 10s.
	ConnectTimeout time.Duration

	// CloseTimeout bounds Close. Default: 3s.
	CloseTimeout time.Duration

	// Retry configures dialing. The zero value dials once.
	Retry RetryConfig
}

// Option is a functional option for a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithDialOptions overrides the WebSocket dial options.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) { c.dialOpts = opts }
}

// Client is one session against the puppeteering host.
type Client struct {
	cfg      Config
	log      *slog.Logger
	dialOpts *websocket.DialOptions

	// callMu serialises round trips.
	callMu sync.Mutex

	mu             sync.Mutex
	link           *link
	nextID         uint64
	authenticated  bool
	amplitudeParam string
	shapeParam     string
	closed         bool
}

// New creates a Client. It does not dial; call [Client.Connect].
func New(cfg Config, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	c := &Client{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("plugin", cfg.PluginName)
	return c
}

// Connect dials the host and completes authentication and, when amplitude
// parameters are configured, parameter discovery. On failure the connection
// is torn down and the error is returned; the Client may be connected again.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := DialWithRetry(ctx, c.cfg.URL, c.dialOpts, c.cfg.Retry)
	if err != nil {
		return fmt.Errorf("vts: connect: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)
	l := newLink(conn, c.log)

	c.mu.Lock()
	if c.link != nil {
		c.link.closeNow()
	}
	c.link = l
	c.closed = false
	c.authenticated = false
	c.amplitudeParam = ""
	c.shapeParam = ""
	c.mu.Unlock()

	// The state probe is informational only.
	var state APIState
	if err := c.request(ctx, MsgAPIState, nil, &state); err != nil {
		c.log.Debug("vts state probe failed", "err", err)
	}

	if err := c.authenticate(ctx); err != nil {
		c.abort()
		return err
	}

	if len(c.cfg.AmplitudeParams) > 0 {
		if err := c.discover(ctx); err != nil {
			c.abort()
			return err
		}
	}
	return nil
}

// abort drops the connection without a close handshake.
func (c *Client) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != nil {
		c.link.closeNow()
		c.link = nil
	}
	c.authenticated = false
}

// Authenticated reports whether the session completed authentication.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// AmplitudeParam returns the discovered mouth-openness parameter, or "".
func (c *Client) AmplitudeParam() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amplitudeParam
}

// ShapeParam returns the discovered mouth-shape parameter, or "" when the
// host has none of the configured candidates.
func (c *Client) ShapeParam() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shapeParam
}

// ── Authentication ──────────────────────────────────────────────────────────

func (c *Client) identity() pluginIdentity {
	return pluginIdentity{PluginName: c.cfg.PluginName, PluginDeveloper: c.cfg.PluginDeveloper}
}

// authenticate tries the cached token first and falls back to the token
// handshake. A fresh token is persisted only after it authenticates.
func (c *Client) authenticate(ctx context.Context) error {
	if c.cfg.Tokens != nil {
		cached, err := c.cfg.Tokens.Load()
		if err != nil {
			c.log.Warn("vts token cache unreadable; requesting a new token", "err", err)
		}
		if cached != "" {
			ok, err := c.authWith(ctx, cached)
			if err == nil && ok {
				c.setAuthenticated()
				c.log.Debug("vts authenticated with cached token")
				return nil
			}
			c.log.Info("vts cached token rejected; requesting a new token", "err", err)
		}
	}

	var tok authTokenResponse
	if err := c.request(ctx, MsgAuthToken, c.identity(), &tok); err != nil {
		return fmt.Errorf("%w: token request: %w", ErrAuthFailed, err)
	}
	if tok.AuthenticationToken == "" {
		return fmt.Errorf("%w: host issued an empty token", ErrAuthFailed)
	}

	ok, err := c.authWith(ctx, tok.AuthenticationToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if !ok {
		return ErrAuthFailed
	}
	c.setAuthenticated()

	if c.cfg.Tokens != nil {
		if err := c.cfg.Tokens.Save(tok.AuthenticationToken); err != nil {
			c.log.Warn("vts token could not be persisted", "err", err)
		}
	}
	c.log.Info("vts authenticated with new token")
	return nil
}

func (c *Client) authWith(ctx context.Context, token string) (bool, error) {
	var resp authResponse
	err := c.request(ctx, MsgAuthenticate, authRequest{
		PluginName:          c.cfg.PluginName,
		PluginDeveloper:     c.cfg.PluginDeveloper,
		AuthenticationToken: token,
	}, &resp)
	if err != nil {
		return false, err
	}
	if !resp.Authenticated && resp.Reason != "" {
		return false, fmt.Errorf("vts: authentication refused: %s", resp.Reason)
	}
	return resp.Authenticated, nil
}

func (c *Client) setAuthenticated() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
}

// ── Discovery ───────────────────────────────────────────────────────────────

// discover resolves the amplitude (required) and shape (optional) channels
// against the names the host reports, matching case-insensitively.
func (c *Client) discover(ctx context.Context) error {
	var list parameterListResponse
	if err := c.request(ctx, MsgInputParameterList, nil, &list); err != nil {
		return fmt.Errorf("vts: list parameters: %w", err)
	}

	available := make(map[string]string, len(list.DefaultParameters)+len(list.CustomParameters))
	for _, group := range [][]Parameter{list.DefaultParameters, list.CustomParameters} {
		for _, p := range group {
			if p.Name != "" {
				available[strings.ToLower(p.Name)] = p.Name
			}
		}
	}

	amp := SelectParam(available, c.cfg.AmplitudeParams)
	if amp == "" {
		return fmt.Errorf("%w: tried %v", ErrNoAmplitudeParam, c.cfg.AmplitudeParams)
	}
	shape := SelectParam(available, c.cfg.ShapeParams)

	c.mu.Lock()
	c.amplitudeParam = amp
	c.shapeParam = shape
	c.mu.Unlock()

	c.log.Info("vts parameters selected", "amplitude", amp, "shape", shape)
	return nil
}

// SelectParam returns the host's spelling of the first preference found in
// available, which maps lower-cased names to host names. It returns "" when
// nothing matches.
func SelectParam(available map[string]string, preferences []string) string {
	for _, p := range preferences {
		if name, ok := available[strings.ToLower(p)]; ok {
			return name
		}
	}
	return ""
}

// ── Operations ──────────────────────────────────────────────────────────────

// Send injects values in "set" mode. The discovered amplitude parameter is
// clamped to [0, 1] and the shape parameter to [-1, 1]; entries with an empty
// name are skipped. Each call is independent and bounded by RequestTimeout.
func (c *Client) Send(ctx context.Context, values map[string]float64) error {
	c.mu.Lock()
	amp, shape := c.amplitudeParam, c.shapeParam
	c.mu.Unlock()

	params := make([]ParameterValue, 0, len(values))
	for id, v := range values {
		if id == "" {
			continue
		}
		switch id {
		case amp:
			v = clamp(v, 0, 1)
		case shape:
			v = clamp(v, -1, 1)
		}
		params = append(params, ParameterValue{ID: id, Value: v})
	}
	if len(params) == 0 {
		return nil
	}
	sort.Slice(params, func(i, j int) bool { return params[i].ID < params[j].ID })

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.request(ctx, MsgInjectParameters, injectRequest{
		FaceFound:       true,
		Mode:            "set",
		ParameterValues: params,
	}, nil)
}

// Trigger fires the hotkey with the given name or ID.
func (c *Client) Trigger(ctx context.Context, hotkey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.request(ctx, MsgHotkeyTrigger, hotkeyRequest{HotkeyID: hotkey}, nil)
}

// Close zeroes the amplitude channel (when one was discovered) and closes the
// connection. Both steps are best-effort and bounded by CloseTimeout; Close
// never blocks longer than that and always returns nil. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || c.link == nil {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	amp := c.amplitudeParam
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
	defer cancel()

	if amp != "" {
		if err := c.Send(ctx, map[string]float64{amp: 0}); err != nil {
			c.log.Debug("vts zero-on-close failed", "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := l.conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
			c.log.Debug("vts close handshake failed", "err", err)
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	l.closeNow()

	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.authenticated = false
	c.mu.Unlock()
	return nil
}

// ── Transport ───────────────────────────────────────────────────────────────

// request performs one round trip and decodes the payload into out (which may
// be nil). A not-authenticated error on a non-authentication request triggers
// exactly one re-authentication and retry.
func (c *Client) request(ctx context.Context, msgType string, data, out any) error {
	resp, err := c.roundTrip(ctx, msgType, data)
	if err != nil {
		return err
	}
	apiErr := apiError(resp, msgType)
	if apiErr != nil && apiErr.NotAuthenticated() && !isAuthRequest(msgType) {
		c.log.Info("vts session lost authentication; re-authenticating", "request", msgType)
		c.mu.Lock()
		c.authenticated = false
		c.mu.Unlock()
		if err := c.authenticate(ctx); err != nil {
			return err
		}
		if resp, err = c.roundTrip(ctx, msgType, data); err != nil {
			return err
		}
		apiErr = apiError(resp, msgType)
	}
	if apiErr != nil {
		return apiErr
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("vts: decode %s response: %w", msgType, err)
		}
	}
	return nil
}

func isAuthRequest(msgType string) bool {
	switch msgType {
	case MsgAuthenticate, MsgAuthToken, MsgAPIState:
		return true
	}
	return false
}

// roundTrip writes one request and waits for the response carrying the same
// request ID. When ctx expires first the request is abandoned; the connection
// stays open and the late response is dropped by the receive loop.
func (c *Client) roundTrip(ctx context.Context, msgType string, data any) (*Response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	l := c.link
	if l == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	c.mu.Unlock()

	payload, err := json.Marshal(request{
		APIName:     APIName,
		APIVersion:  APIVersion,
		RequestID:   id,
		MessageType: msgType,
		Data:        data,
	})
	if err != nil {
		return nil, fmt.Errorf("vts: marshal %s: %w", msgType, err)
	}

	ch := l.expect(id)
	defer l.forget(id)

	// A write that outlives ctx closes the connection; that only happens
	// when the host has stopped reading altogether.
	if err := l.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return nil, fmt.Errorf("vts: write %s: %w", msgType, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-l.done:
		return nil, fmt.Errorf("vts: read %s response: %w", msgType, l.err)
	case <-ctx.Done():
		return nil, fmt.Errorf("vts: await %s response: %w", msgType, ctx.Err())
	}
}

// ── Receive loop ────────────────────────────────────────────────────────────

// link is one WebSocket connection plus the goroutine reading from it.
type link struct {
	conn   *websocket.Conn
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan *Response

	// err is set before done is closed.
	err  error
	done chan struct{}
}

func newLink(conn *websocket.Conn, log *slog.Logger) *link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		conn:    conn,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
	go l.receiveLoop()
	return l
}

// receiveLoop reads responses until the connection fails or the link is
// closed, delivering each to the waiter registered for its request ID.
func (l *link) receiveLoop() {
	defer close(l.done)

	for {
		_, raw, err := l.conn.Read(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				err = net.ErrClosed
			}
			l.err = err
			return
		}
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			l.log.Debug("vts discarding undecodable message", "err", err)
			continue
		}

		l.mu.Lock()
		ch, ok := l.pending[resp.RequestID]
		if ok {
			delete(l.pending, resp.RequestID)
		}
		l.mu.Unlock()

		if !ok {
			l.log.Debug("vts discarding stale response", "id", resp.RequestID, "type", resp.MessageType)
			continue
		}
		ch <- &resp
	}
}

// expect registers a waiter for id. The channel is buffered so delivery
// never blocks the receive loop.
func (l *link) expect(id string) <-chan *Response {
	ch := make(chan *Response, 1)
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	return ch
}

func (l *link) forget(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// closeNow stops the receive loop and drops the connection without a close
// handshake.
func (l *link) closeNow() {
	l.cancel()
	l.conn.CloseNow()
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
