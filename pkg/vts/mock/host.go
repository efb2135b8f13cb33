// Package mock provides test doubles for the vts package: [Host], an
// in-process fake of the puppeteering host's WebSocket API, and [Session], a
// recording implementation of vts.Session.
//
// Example:
//
//	h := &mock.Host{IssueToken: "tok", DefaultParams: []string{"MouthOpen"}}
//	url := h.Start()
//	defer h.Close()
//	c := vts.New(vts.Config{URL: url, AmplitudeParams: []string{"MouthOpen"}})
package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mouthpiece/pkg/vts"
)

// Injection records one accepted InjectParameterDataRequest.
type Injection struct {
	FaceFound bool                 `json:"faceFound"`
	Mode      string               `json:"mode"`
	Values    []vts.ParameterValue `json:"parameterValues"`
}

// Host is a fake puppeteering host. Configure the exported fields before
// calling Start; read results through the accessor methods.
type Host struct {
	mu sync.Mutex

	// --- Configuration ---

	// IssueToken is handed out by AuthenticationTokenRequest and is accepted
	// afterwards. Defaults to "issued-token".
	IssueToken string

	// AcceptedTokens lists tokens that authenticate without a handshake.
	AcceptedTokens []string

	// DenyTokenRequests makes AuthenticationTokenRequest fail, as when the
	// user clicks "deny" in the host's permission dialog.
	DenyTokenRequests bool

	// DefaultParams and CustomParams are reported by InputParameterListRequest.
	DefaultParams []string
	CustomParams  []string

	// FailInjects makes the next N inject requests fail with a generic error.
	FailInjects int

	// ExpireAuth makes the next N non-authentication requests fail with the
	// not-authenticated error and drop the session's authentication.
	ExpireAuth int

	// SendStale makes the host emit a response with an unrelated request ID
	// before each real response.
	SendStale bool

	// SlowInjects delays the answer to the next N inject requests by
	// SlowDelay. The host answers requests in order, so later requests queue
	// behind a slow one.
	SlowInjects int
	SlowDelay   time.Duration

	// --- Recorded state ---

	messageTypes []string
	injections   []Injection
	hotkeys      []string
	connections  int

	srv   *httptest.Server
	conns []*websocket.Conn
}

type inbound struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// Start launches the host and returns its ws:// URL.
func (h *Host) Start() string {
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

// Close drops every open connection and stops the host.
func (h *Host) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for _, c := range conns {
		c.CloseNow()
	}
	if h.srv != nil {
		h.srv.Close()
	}
}

// ExpireAuthNext makes the next n non-authentication requests fail with the
// not-authenticated error. Safe to call while clients are connected.
func (h *Host) ExpireAuthNext(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ExpireAuth = n
}

// MessageTypes returns the message type of every request received, in order.
func (h *Host) MessageTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messageTypes)
}

// Injections returns every accepted inject request, in order.
func (h *Host) Injections() []Injection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.injections)
}

// Hotkeys returns every triggered hotkey ID, in order.
func (h *Host) Hotkeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.hotkeys)
}

// Connections returns the number of accepted WebSocket connections.
func (h *Host) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connections
}

func (h *Host) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	h.mu.Lock()
	h.connections++
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	ctx := context.Background()
	authenticated := false
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req inbound
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		msgType, data := h.handle(&req, &authenticated)
		if d := h.delayFor(req.MessageType); d > 0 {
			time.Sleep(d)
		}

		if h.staleEnabled() {
			if err := write(ctx, conn, "stale-"+req.RequestID, "InjectParameterDataResponse", struct{}{}); err != nil {
				return
			}
		}
		if err := write(ctx, conn, req.RequestID, msgType, data); err != nil {
			return
		}
	}
}

func (h *Host) delayFor(msgType string) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msgType != vts.MsgInjectParameters || h.SlowInjects <= 0 {
		return 0
	}
	h.SlowInjects--
	return h.SlowDelay
}

func (h *Host) staleEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.SendStale
}

func (h *Host) issued() string {
	if h.IssueToken == "" {
		return "issued-token"
	}
	return h.IssueToken
}

// handle processes one request with h.mu held and returns the response type
// and payload.
func (h *Host) handle(req *inbound, authenticated *bool) (string, any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messageTypes = append(h.messageTypes, req.MessageType)

	switch req.MessageType {
	case vts.MsgAPIState:
		return "APIStateResponse", vts.APIState{
			Active:                      true,
			VTubeStudioVersion:          "1.28.0",
			CurrentSessionAuthenticated: *authenticated,
		}

	case vts.MsgAuthToken:
		if h.DenyTokenRequests {
			return errorResponse(50, "User has denied API access for your plugin.")
		}
		tok := h.issued()
		if !slices.Contains(h.AcceptedTokens, tok) {
			h.AcceptedTokens = append(h.AcceptedTokens, tok)
		}
		return "AuthenticationTokenResponse", map[string]string{"authenticationToken": tok}

	case vts.MsgAuthenticate:
		var body struct {
			Token string `json:"authenticationToken"`
		}
		_ = json.Unmarshal(req.Data, &body)
		if slices.Contains(h.AcceptedTokens, body.Token) {
			*authenticated = true
			return "AuthenticationResponse", map[string]any{"authenticated": true, "reason": "Token valid. The plugin is authenticated for the duration of this session."}
		}
		*authenticated = false
		return "AuthenticationResponse", map[string]any{"authenticated": false, "reason": "Token invalid."}
	}

	if h.ExpireAuth > 0 {
		h.ExpireAuth--
		*authenticated = false
	}
	if !*authenticated {
		return errorResponse(vts.ErrorIDNotAuthenticated, "Plugin is not authenticated.")
	}

	switch req.MessageType {
	case vts.MsgInputParameterList:
		return "InputParameterListResponse", map[string]any{
			"modelLoaded":       true,
			"modelName":         "test model",
			"defaultParameters": params(h.DefaultParams, "VTube Studio"),
			"customParameters":  params(h.CustomParams, "test plugin"),
		}

	case vts.MsgInjectParameters:
		if h.FailInjects > 0 {
			h.FailInjects--
			return errorResponse(453, "Parameter injection failed.")
		}
		var inj Injection
		_ = json.Unmarshal(req.Data, &inj)
		h.injections = append(h.injections, inj)
		return "InjectParameterDataResponse", struct{}{}

	case vts.MsgHotkeyTrigger:
		var body struct {
			HotkeyID string `json:"hotkeyID"`
		}
		_ = json.Unmarshal(req.Data, &body)
		h.hotkeys = append(h.hotkeys, body.HotkeyID)
		return "HotkeyTriggerResponse", map[string]string{"hotkeyID": body.HotkeyID}
	}

	return errorResponse(2, "Unknown message type.")
}

func errorResponse(id int, msg string) (string, any) {
	return vts.MsgAPIError, map[string]any{"errorID": id, "message": msg}
}

func params(names []string, addedBy string) []vts.Parameter {
	out := make([]vts.Parameter, 0, len(names))
	for _, n := range names {
		out = append(out, vts.Parameter{Name: n, AddedBy: addedBy, Max: 1})
	}
	return out
}

func write(ctx context.Context, conn *websocket.Conn, requestID, msgType string, data any) error {
	payload, err := json.Marshal(map[string]any{
		"apiName":     vts.APIName,
		"apiVersion":  vts.APIVersion,
		"timestamp":   0,
		"requestID":   requestID,
		"messageType": msgType,
		"data":        data,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
