package sessions

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dohr-michael/fastcoder/internal/events"
	"github.com/dohr-michael/fastcoder/internal/models"
)

// Manager keeps one Session per open panel. Sessions share nothing but the
// (stateless) model streamer and the event bus.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	bus      *events.Bus
	streamer models.ChatStreamer
	model    string
}

// NewManager creates a session manager.
func NewManager(bus *events.Bus, streamer models.ChatStreamer, model string) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		bus:      bus,
		streamer: streamer,
		model:    model,
	}
}

func generateSessionID() string {
	u := uuid.New().String()
	return "sess_" + strings.ReplaceAll(u[:8], "-", "")
}

// Open creates a session whose updates are published on the bus.
func (m *Manager) Open() *Session {
	id := generateSessionID()
	s := New(Config{
		ID:       id,
		Model:    m.model,
		Streamer: m.streamer,
		Sink:     NewBusSink(m.bus, id),
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.bus.Publish(events.NewTypedEventWithSession(events.SourceSession, events.SessionCreatedPayload{Model: m.model}, id))
	slog.Info("session opened", "session", id, "model", m.model)
	return s
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close cancels any in-flight turn and forgets the session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.Cancel()
	info := s.Info()
	m.bus.Publish(events.NewTypedEventWithSession(events.SourceSession, events.SessionClosedPayload{
		Messages: info.Messages,
		Turns:    info.Turns,
	}, id))
	slog.Info("session closed", "session", id, "turns", info.Turns)
	return nil
}

// List returns metadata of all open sessions, most recently active first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	list := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}
