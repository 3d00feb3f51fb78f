package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/coder/websocket"

	"github.com/dohr-michael/fastcoder/internal/conversation"
	"github.com/dohr-michael/fastcoder/internal/events"
	"github.com/dohr-michael/fastcoder/internal/models"
	"github.com/dohr-michael/fastcoder/internal/sessions"
)

// gatedStreamer sends its fragments, then waits for release (or ctx) before
// ending the stream.
type gatedStreamer struct {
	parts   []string
	release chan struct{}

	mu    sync.Mutex
	calls [][]conversation.Message
}

func (g *gatedStreamer) StreamChat(ctx context.Context, history []conversation.Message) (*models.Stream, error) {
	g.mu.Lock()
	g.calls = append(g.calls, history)
	g.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer sw.Close()
		for _, p := range g.parts {
			sw.Send(&schema.Message{Role: schema.Assistant, Content: p}, nil)
		}
		if g.release == nil {
			return
		}
		select {
		case <-g.release:
		case <-ctx.Done():
			sw.Send(nil, ctx.Err())
		}
	}()
	return models.NewStream(sr), nil
}

func (g *gatedStreamer) lastCall() []conversation.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

type testPanel struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func newTestHub(t *testing.T, streamer models.ChatStreamer) (*Hub, *sessions.Manager, string) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	manager := sessions.NewManager(bus, streamer, "test-model")
	hub := NewHub(bus, manager)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, manager, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPanel(t *testing.T, url string) *testPanel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &testPanel{t: t, conn: conn}
}

func (p *testPanel) request(method Method, params any) string {
	p.t.Helper()
	p.seq++
	id := "req-" + strconv.Itoa(p.seq)
	f, err := NewRequestFrame(id, method, params)
	if err != nil {
		p.t.Fatalf("NewRequestFrame: %v", err)
	}
	data, _ := MarshalFrame(f)
	if err := p.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		p.t.Fatalf("write: %v", err)
	}
	return id
}

func (p *testPanel) read() Frame {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := p.conn.Read(ctx)
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		p.t.Fatalf("unmarshal: %v", err)
	}
	return f
}

// readUntil reads frames until match returns true and returns that frame.
func (p *testPanel) readUntil(match func(Frame) bool) Frame {
	p.t.Helper()
	for i := 0; i < 100; i++ {
		f := p.read()
		if match(f) {
			return f
		}
	}
	p.t.Fatal("no matching frame")
	return Frame{}
}

func isResponse(id string) func(Frame) bool {
	return func(f Frame) bool { return f.Type == FrameTypeResponse && f.ID == id }
}

func isFinal(f Frame) bool {
	if f.Type != FrameTypeEvent || f.Event != EventUpdate {
		return false
	}
	var u UpdatePayload
	_ = json.Unmarshal(f.Payload, &u)
	return u.Final
}

func updateOf(t *testing.T, f Frame) UpdatePayload {
	t.Helper()
	var u UpdatePayload
	if err := json.Unmarshal(f.Payload, &u); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	return u
}

func TestHub_SessionFrameOnConnect(t *testing.T) {
	_, _, url := newTestHub(t, &gatedStreamer{})
	p := dialPanel(t, url)

	f := p.read()
	if f.Type != FrameTypeEvent || f.Event != EventSession {
		t.Fatalf("expected session event, got %+v", f)
	}
	var sp SessionPayload
	if err := json.Unmarshal(f.Payload, &sp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(sp.SessionID, "sess_") {
		t.Fatalf("unexpected session id %q", sp.SessionID)
	}
	if sp.Model != "test-model" {
		t.Fatalf("expected model %q, got %q", "test-model", sp.Model)
	}
	if f.SessionID != sp.SessionID {
		t.Fatalf("frame session %q != payload session %q", f.SessionID, sp.SessionID)
	}
}

func TestHub_SendStreamsRunningTranscript(t *testing.T) {
	_, _, url := newTestHub(t, &gatedStreamer{parts: []string{"Hel", "lo", "!"}})
	p := dialPanel(t, url)
	p.read() // session

	id := p.request(MethodSend, SendParams{Text: "hi"})
	res := p.readUntil(isResponse(id))
	if res.OK == nil || !*res.OK {
		t.Fatalf("expected ok response, got %+v", res)
	}

	var texts []string
	final := p.readUntil(func(f Frame) bool {
		if f.Type == FrameTypeEvent && f.Event == EventUpdate {
			texts = append(texts, updateOf(t, f).Text)
		}
		return isFinal(f)
	})

	u := updateOf(t, final)
	if u.Text != "Hello!" || u.Error || u.Cancelled {
		t.Fatalf("unexpected final update %+v", u)
	}
	want := []string{"Hel", "Hello", "Hello!", "Hello!"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Fatalf("expected updates %v, got %v", want, texts)
	}
}

func TestHub_RejectsSecondSendWhileStreaming(t *testing.T) {
	streamer := &gatedStreamer{parts: []string{"thinking"}, release: make(chan struct{})}
	_, _, url := newTestHub(t, streamer)
	p := dialPanel(t, url)
	p.read() // session

	first := p.request(MethodSend, SendParams{Text: "one"})
	p.readUntil(isResponse(first))
	p.readUntil(func(f Frame) bool { return f.Type == FrameTypeEvent && f.Event == EventUpdate })

	second := p.request(MethodSend, SendParams{Text: "two"})
	res := p.readUntil(isResponse(second))
	if res.OK == nil || *res.OK {
		t.Fatalf("expected rejection, got %+v", res)
	}
	if res.Error != sessions.ErrTurnInProgress.Error() {
		t.Fatalf("expected error %q, got %q", sessions.ErrTurnInProgress, res.Error)
	}

	close(streamer.release)
	u := updateOf(t, p.readUntil(isFinal))
	if u.Text != "thinking" {
		t.Fatalf("expected final %q, got %q", "thinking", u.Text)
	}
}

func TestHub_RejectsBlankPrompt(t *testing.T) {
	_, _, url := newTestHub(t, &gatedStreamer{})
	p := dialPanel(t, url)
	p.read() // session

	id := p.request(MethodSend, SendParams{Text: "   "})
	res := p.readUntil(isResponse(id))
	if res.OK == nil || *res.OK {
		t.Fatalf("expected rejection, got %+v", res)
	}
	if res.Error != sessions.ErrEmptyInput.Error() {
		t.Fatalf("expected error %q, got %q", sessions.ErrEmptyInput, res.Error)
	}
}

func TestHub_CancelStopsTurn(t *testing.T) {
	streamer := &gatedStreamer{parts: []string{"partial"}, release: make(chan struct{})}
	_, _, url := newTestHub(t, streamer)
	p := dialPanel(t, url)
	p.read() // session

	send := p.request(MethodSend, SendParams{Text: "go"})
	p.readUntil(isResponse(send))
	p.readUntil(func(f Frame) bool { return f.Type == FrameTypeEvent && f.Event == EventUpdate })

	cancelID := p.request(MethodCancel, nil)
	res := p.readUntil(isResponse(cancelID))
	var cr CancelResult
	if err := json.Unmarshal(res.Payload, &cr); err != nil {
		t.Fatalf("unmarshal cancel result: %v", err)
	}
	if !cr.Cancelled {
		t.Fatal("expected cancelled=true")
	}

	u := updateOf(t, p.readUntil(isFinal))
	if !u.Cancelled {
		t.Fatalf("expected cancelled final update, got %+v", u)
	}
	if u.Text != "partial" {
		t.Fatalf("expected partial text %q, got %q", "partial", u.Text)
	}
}

func TestHub_ResetClearsHistory(t *testing.T) {
	streamer := &gatedStreamer{parts: []string{"answer"}}
	_, _, url := newTestHub(t, streamer)
	p := dialPanel(t, url)
	p.read() // session

	id := p.request(MethodSend, SendParams{Text: "q1"})
	p.readUntil(isResponse(id))
	p.readUntil(isFinal)

	reset := p.request(MethodReset, nil)
	gotClear := false
	res := p.readUntil(func(f Frame) bool {
		if f.Type == FrameTypeEvent && f.Event == EventClear {
			gotClear = true
		}
		return isResponse(reset)(f)
	})
	if res.OK == nil || !*res.OK {
		t.Fatalf("expected ok reset, got %+v", res)
	}
	if !gotClear {
		p.readUntil(func(f Frame) bool { return f.Type == FrameTypeEvent && f.Event == EventClear })
	}

	id = p.request(MethodSend, SendParams{Text: "q2"})
	p.readUntil(isResponse(id))
	p.readUntil(isFinal)

	history := streamer.lastCall()
	if len(history) != 1 || history[0].Content != "q2" {
		t.Fatalf("expected fresh context with only q2, got %+v", history)
	}
}

func TestHub_HistoryIsContext(t *testing.T) {
	streamer := &gatedStreamer{parts: []string{"a"}}
	_, _, url := newTestHub(t, streamer)
	p := dialPanel(t, url)
	p.read() // session

	for _, q := range []string{"first", "second"} {
		id := p.request(MethodSend, SendParams{Text: q})
		p.readUntil(isResponse(id))
		p.readUntil(isFinal)
	}

	history := streamer.lastCall()
	if len(history) != 3 {
		t.Fatalf("expected 3 messages of context, got %d", len(history))
	}
	if history[0].Content != "first" || history[1].Role != conversation.RoleAssistant || history[2].Content != "second" {
		t.Fatalf("unexpected context %+v", history)
	}
}

func TestHub_PanelsAreIsolated(t *testing.T) {
	streamer := &gatedStreamer{parts: []string{"x"}, release: make(chan struct{})}
	_, _, url := newTestHub(t, streamer)
	a := dialPanel(t, url)
	b := dialPanel(t, url)
	a.read()
	b.read()

	id := a.request(MethodSend, SendParams{Text: "busy"})
	a.readUntil(isResponse(id))

	// b's session is idle even though a's is streaming.
	id = b.request(MethodSend, SendParams{Text: "also"})
	res := b.readUntil(isResponse(id))
	if res.OK == nil || !*res.OK {
		t.Fatalf("expected panel b to be accepted, got %+v", res)
	}
	close(streamer.release)
	a.readUntil(isFinal)
	b.readUntil(isFinal)
}

func TestHub_UnknownMethod(t *testing.T) {
	_, _, url := newTestHub(t, &gatedStreamer{})
	p := dialPanel(t, url)
	p.read() // session

	id := p.request(Method("bogus"), nil)
	res := p.readUntil(isResponse(id))
	if res.OK == nil || *res.OK {
		t.Fatalf("expected error response, got %+v", res)
	}
	if res.Error != "unknown method: bogus" {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestHub_DisconnectClosesSession(t *testing.T) {
	streamer := &gatedStreamer{parts: []string{"x"}, release: make(chan struct{})}
	hub, manager, url := newTestHub(t, streamer)
	p := dialPanel(t, url)
	p.read()

	id := p.request(MethodSend, SendParams{Text: "long"})
	p.readUntil(isResponse(id))
	p.conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(manager.List()) == 0 && hub.Clients() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session not closed: sessions=%d clients=%d", len(manager.List()), hub.Clients())
}

func TestClient_SlowPanelStillGetsFinalUpdate(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	manager := sessions.NewManager(bus, &gatedStreamer{}, "test-model")
	sess := manager.Open()
	defer manager.CloseAll()

	c := &Client{out: newOutbox(256), session: sess}
	for i := 1; i <= 300; i++ {
		c.forward(events.NewTypedEventWithSession(events.SourceSession,
			events.AssistantStreamPayload{Content: strings.Repeat("x", i), Index: i}, sess.ID()))
	}
	c.forward(events.NewTypedEventWithSession(events.SourceSession,
		events.AssistantMessagePayload{Content: "done"}, sess.ID()))

	frames, open := c.out.take()
	if !open {
		t.Fatal("outbox closed unexpectedly")
	}
	if len(frames) != 256 {
		t.Fatalf("expected 256 queued frames, got %d", len(frames))
	}

	finals := 0
	prev := 0
	for _, data := range frames {
		f, err := UnmarshalFrame(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		u := updateOf(t, f)
		if u.Final {
			finals++
			if u.Text != "done" {
				t.Errorf("final text: got %q, want %q", u.Text, "done")
			}
			continue
		}
		if u.Seq <= prev {
			t.Errorf("partial out of order: seq %d after %d", u.Seq, prev)
		}
		prev = u.Seq
	}
	if finals != 1 {
		t.Fatalf("final updates delivered: got %d, want 1", finals)
	}
	if !isFinal(mustUnmarshal(t, frames[len(frames)-1])) {
		t.Error("expected the final update to be the last frame")
	}
}

func mustUnmarshal(t *testing.T, data []byte) Frame {
	t.Helper()
	f, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}
