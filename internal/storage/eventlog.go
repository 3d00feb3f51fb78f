// Package storage records bus activity: an optional JSONL trace on disk and
// in-memory token usage per session.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dohr-michael/fastcoder/internal/events"
)

// EventLogger writes bus events as JSONL, one file per session. It is a
// debugging trace; nothing reads it back.
type EventLogger struct {
	mu          sync.Mutex
	dir         string
	unsubscribe func()
}

// NewEventLogger subscribes to every bus event except partial updates and
// appends them to dir.
func NewEventLogger(dir string, bus *events.Bus) (*EventLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	el := &EventLogger{dir: dir}
	el.unsubscribe = bus.SubscribeFunc(el.handleEvent, func(e events.Event) bool {
		// Partial updates repeat the whole transcript; the final one is enough.
		return e.Type != events.EventAssistantStream
	})
	return el, nil
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	if err := el.writeEvent(e); err != nil {
		slog.Warn("event log write", "event", e.Type, "session", e.SessionID, "error", err)
	}
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()

	f, err := os.OpenFile(el.logPath(e.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (el *EventLogger) logPath(sessionID string) string {
	if sessionID == "" {
		return filepath.Join(el.dir, "_global.jsonl")
	}
	return filepath.Join(el.dir, sessionID+".jsonl")
}
