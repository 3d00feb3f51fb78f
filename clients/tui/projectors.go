package tui

import (
	"encoding/json"

	tea "github.com/charmbracelet/bubbletea"

	ws "github.com/dohr-michael/fastcoder/internal/gateway/ws"
)

// Project converts a gateway WS Frame into a typed tea.Msg.
// Returns nil for frames that don't map to a TUI message.
func Project(frame ws.Frame) tea.Msg {
	switch frame.Type {
	case ws.FrameTypeResponse:
		return ResponseMsg{
			ID:    frame.ID,
			OK:    frame.OK != nil && *frame.OK,
			Error: frame.Error,
		}
	case ws.FrameTypeEvent:
	default:
		return nil
	}

	switch frame.Event {
	case ws.EventUpdate:
		var p ws.UpdatePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil
		}
		return UpdateMsg{Text: p.Text, Final: p.Final, Error: p.Error, Cancelled: p.Cancelled}
	case ws.EventClear:
		return ClearMsg{}
	case ws.EventSession:
		var p ws.SessionPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil
		}
		return SessionMsg{SessionID: p.SessionID, Model: p.Model}
	default:
		return nil
	}
}
