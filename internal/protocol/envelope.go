// Package protocol implements the newline-delimited JSON-RPC 2.0 framing
// the sidecar speaks over stdin/stdout. It owns line limits, message
// shapes, and the error-kind catalogue; it does not know about any
// particular method.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// MaxLineLength is the hard per-line cap. A longer line is a fatal
	// protocol error that terminates the process (§4.1).
	MaxLineLength = 1024 * 1024

	Version = "2.0"
)

// Request is a host→sidecar message. ID is nil for a notification-style
// fire-and-forget call; the wire protocol here always carries an ID for
// requests (notifications flow sidecar→host only).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a sidecar→host reply to exactly one Request, matched by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error payload embedded in a Response.
type ErrorObject struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notification is a sidecar→host event with no ID and no reply expected.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResponse builds a success Response for the given request id.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error Response from a SidecarError.
func NewErrorResponse(id json.RawMessage, se *SidecarError) *Response {
	data := se.Data
	if data == nil {
		data = map[string]any{}
	}
	data["kind"] = string(se.Kind)
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error: &ErrorObject{
			Code:    se.Kind.RPCCode(),
			Message: se.Message,
			Data:    data,
		},
	}
}

// NewNotification builds a notification for the given event method.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: params}
}

// ParseRequest decodes a single line into a Request. It requires
// "jsonrpc":"2.0" and a non-empty "method" string per §4.1's schema
// rule — anything else is an invalid request, never a panic.
func ParseRequest(line []byte) (*Request, *SidecarError) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, NewError(KindParseError, "malformed JSON", nil)
	}
	if req.JSONRPC != Version {
		return nil, NewError(KindInvalidParams, fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC), nil)
	}
	if req.Method == "" {
		return nil, NewError(KindInvalidParams, "request missing method", nil)
	}
	return &req, nil
}
