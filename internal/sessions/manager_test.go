package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/fastcoder/internal/events"
)

func TestManager_SessionsAreIndependent(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	m := NewManager(bus, &fakeStreamer{script: fragments("hello")}, "fake")
	a := m.Open()
	b := m.Open()

	if a.ID() == b.ID() {
		t.Fatal("expected distinct session IDs")
	}
	if !strings.HasPrefix(a.ID(), "sess_") {
		t.Errorf("unexpected id format: %q", a.ID())
	}

	if err := a.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(a.History()) != 2 {
		t.Fatalf("expected 2 messages in a, got %d", len(a.History()))
	}
	if len(b.History()) != 0 {
		t.Fatalf("session b must not see a's conversation, got %+v", b.History())
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != a.ID() {
		t.Errorf("expected most recently active session first, got %s", list[0].ID)
	}
}

func TestManager_BusUpdates(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	m := NewManager(bus, &fakeStreamer{script: fragments("Hel", "lo")}, "fake")
	s := m.Open()

	ch, unsub := bus.SubscribeChan(16, events.EventAssistantStream, events.EventAssistantMessage, events.EventConversationCleared)
	defer unsub()

	if err := s.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	var got []Update
	cleared := false
	timeout := time.After(2 * time.Second)
	for !cleared {
		select {
		case e := <-ch:
			if e.SessionID != s.ID() {
				t.Fatalf("event tagged with session %q, want %q", e.SessionID, s.ID())
			}
			if e.Type == events.EventConversationCleared {
				cleared = true
				continue
			}
			u, ok := UpdateFromEvent(e)
			if !ok {
				t.Fatalf("unexpected event %s", e.Type)
			}
			got = append(got, u)
		case <-timeout:
			t.Fatalf("timeout, received %+v", got)
		}
	}

	if len(got) != 3 || got[0].Text != "Hel" || got[1].Text != "Hello" || !got[2].Final || got[2].Text != "Hello" {
		t.Fatalf("unexpected update sequence: %+v", got)
	}
}

func TestManager_CloseCancelsTurn(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	f := &fakeStreamer{script: func(ctx context.Context, _ int, w *schema.StreamWriter[*schema.Message]) {
		<-ctx.Done()
		w.Send(nil, ctx.Err())
	}}
	m := NewManager(bus, f, "fake")
	s := m.Open()

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background(), "hi") }()
	waitFor(t, func() bool { return s.State() == StateStreaming })

	if err := m.Close(s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn not cancelled by Close")
	}

	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.Close(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on double close, got %v", err)
	}
}

func TestManager_CloseAll(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	m := NewManager(bus, &fakeStreamer{script: fragments("x")}, "fake")
	m.Open()
	m.Open()
	m.CloseAll()

	if n := len(m.List()); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}

func TestUpdateFromEvent_Error(t *testing.T) {
	e := events.NewTypedEvent(events.SourceSession, events.AssistantMessagePayload{Error: "Error: boom"})
	u, ok := UpdateFromEvent(e)
	if !ok || !u.Final || !u.Error || u.Text != "Error: boom" {
		t.Fatalf("unexpected update: %+v (ok=%v)", u, ok)
	}

	if _, ok := UpdateFromEvent(events.NewTypedEvent(events.SourceWS, events.UserMessagePayload{Content: "x"})); ok {
		t.Fatal("user messages are not updates")
	}
}
