package storage

import (
	"sync"

	"github.com/dohr-michael/fastcoder/internal/events"
)

// TokenUsage is the token count reported by the model backend.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Calls  int `json:"calls"`
}

// UsageTracker accumulates token usage per session from model.call events.
// Closed sessions are forgotten.
type UsageTracker struct {
	mu          sync.Mutex
	sessions    map[string]TokenUsage
	total       TokenUsage
	unsubscribe func()
}

// NewUsageTracker subscribes to model and session events.
func NewUsageTracker(bus *events.Bus) *UsageTracker {
	ut := &UsageTracker{sessions: make(map[string]TokenUsage)}
	ut.unsubscribe = bus.Subscribe(ut.handleEvent, events.EventModelCall, events.EventSessionClosed)
	return ut
}

// Close unsubscribes the tracker from the event bus.
func (ut *UsageTracker) Close() {
	if ut.unsubscribe != nil {
		ut.unsubscribe()
	}
}

func (ut *UsageTracker) handleEvent(e events.Event) {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	if e.Type == events.EventSessionClosed {
		delete(ut.sessions, e.SessionID)
		return
	}

	payload, ok := events.GetModelCallPayload(e)
	if !ok || payload.Phase != "response" {
		return
	}

	ut.total.Calls++
	ut.total.Input += payload.TokensInput
	ut.total.Output += payload.TokensOutput

	if e.SessionID == "" {
		return
	}
	u := ut.sessions[e.SessionID]
	u.Calls++
	u.Input += payload.TokensInput
	u.Output += payload.TokensOutput
	ut.sessions[e.SessionID] = u
}

// Session returns the usage of one open session.
func (ut *UsageTracker) Session(id string) TokenUsage {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return ut.sessions[id]
}

// Total returns the usage since the tracker started.
func (ut *UsageTracker) Total() TokenUsage {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return ut.total
}
