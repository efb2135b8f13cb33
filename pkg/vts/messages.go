package vts

import (
	"encoding/json"
	"fmt"
)

// Protocol identity sent with every request.
const (
	APIName    = "VTubeStudioPublicAPI"
	APIVersion = "1.0"
)

// Message types used by the client.
const (
	MsgAPIState           = "APIStateRequest"
	MsgAuthToken          = "AuthenticationTokenRequest"
	MsgAuthenticate       = "AuthenticationRequest"
	MsgInputParameterList = "InputParameterListRequest"
	MsgInjectParameters   = "InjectParameterDataRequest"
	MsgHotkeyTrigger      = "HotkeyTriggerRequest"

	// MsgAPIError is the message type of every error response.
	MsgAPIError = "APIError"
)

// ErrorIDNotAuthenticated is the host error code for a request sent on a
// session that has not (or no longer) authenticated.
const ErrorIDNotAuthenticated = 8

// request is the outbound envelope.
type request struct {
	APIName     string `json:"apiName"`
	APIVersion  string `json:"apiVersion"`
	RequestID   string `json:"requestID"`
	MessageType string `json:"messageType"`
	Data        any    `json:"data,omitempty"`
}

// Response is the inbound envelope. Data is left raw until the caller knows
// which payload to expect.
type Response struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// APIError is an error response from the host.
type APIError struct {
	ID          int    `json:"errorID"`
	Message     string `json:"message"`
	RequestType string `json:"-"`
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("vts: %s failed with error %d: %s", e.RequestType, e.ID, e.Message)
}

// NotAuthenticated reports whether the host rejected the request because the
// session is not authenticated.
func (e *APIError) NotAuthenticated() bool { return e.ID == ErrorIDNotAuthenticated }

// apiError extracts an APIError from resp, or returns nil for a successful
// response. Any non-zero errorID counts, whatever the message type says.
func apiError(resp *Response, requestType string) *APIError {
	if len(resp.Data) == 0 {
		if resp.MessageType == MsgAPIError {
			return &APIError{RequestType: requestType, Message: "empty error payload"}
		}
		return nil
	}
	var e APIError
	if err := json.Unmarshal(resp.Data, &e); err != nil {
		if resp.MessageType == MsgAPIError {
			return &APIError{RequestType: requestType, Message: "malformed error payload"}
		}
		return nil
	}
	if e.ID == 0 && resp.MessageType != MsgAPIError {
		return nil
	}
	e.RequestType = requestType
	return &e
}

// ── Payloads ────────────────────────────────────────────────────────────────

type pluginIdentity struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
}

type authTokenResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type authRequest struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

type authResponse struct {
	Authenticated bool   `json:"authenticated"`
	Reason        string `json:"reason,omitempty"`
}

// Parameter describes one controllable input parameter reported by the host.
type Parameter struct {
	Name         string  `json:"name"`
	AddedBy      string  `json:"addedBy,omitempty"`
	Value        float64 `json:"value"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	DefaultValue float64 `json:"defaultValue"`
}

type parameterListResponse struct {
	ModelLoaded       bool        `json:"modelLoaded"`
	ModelName         string      `json:"modelName,omitempty"`
	DefaultParameters []Parameter `json:"defaultParameters"`
	CustomParameters  []Parameter `json:"customParameters"`
}

// ParameterValue is one injected value.
type ParameterValue struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

type injectRequest struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode"`
	ParameterValues []ParameterValue `json:"parameterValues"`
}

type hotkeyRequest struct {
	HotkeyID string `json:"hotkeyID"`
}

// APIState is the host's answer to a state probe.
type APIState struct {
	Active                      bool   `json:"active"`
	VTubeStudioVersion          string `json:"vTubeStudioVersion"`
	CurrentSessionAuthenticated bool   `json:"currentSessionAuthenticated"`
}
