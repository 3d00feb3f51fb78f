// Package ws implements the panel side of the UI bridge over WebSocket.
package ws

import "encoding/json"

// FrameType represents the type of WebSocket frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method is an inbound (panel → session) request.
type Method string

const (
	MethodSend   Method = "send"
	MethodReset  Method = "reset"
	MethodCancel Method = "cancel"
)

// Outbound (session → panel) event names.
const (
	EventUpdate  = "update"
	EventClear   = "clear"
	EventSession = "session"
)

// Frame is the WebSocket protocol envelope.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// SendParams are the params of a send request.
type SendParams struct {
	Text string `json:"text"`
}

// UpdatePayload is the payload of an update event. Text is the running
// transcript of the current turn.
type UpdatePayload struct {
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	Error     bool   `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Seq       int    `json:"seq,omitempty"`
}

// SessionPayload is sent once when the panel connects.
type SessionPayload struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

// CancelResult is the payload of a cancel response.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewRequestFrame creates a request Frame.
func NewRequestFrame(id string, method Method, params any) (Frame, error) {
	f := Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: string(method),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Frame{}, err
		}
		f.Params = data
	}
	return f, nil
}

// NewEventFrame creates a Frame for pushing an event to a panel.
func NewEventFrame(event string, sessionID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:      FrameTypeEvent,
		Event:     event,
		SessionID: sessionID,
		Payload:   data,
	}, nil
}

// NewResponseFrame creates a response Frame.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
