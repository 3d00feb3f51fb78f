package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/fastcoder/internal/events"
	"github.com/dohr-michael/fastcoder/internal/sessions"
)

// Client is one connected panel. It owns exactly one session.
type Client struct {
	conn    *websocket.Conn
	out     *outbox
	hub     *Hub
	session *sessions.Session
}

// Hub manages WebSocket panels and bridges each one to its own session.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	bus      *events.Bus
	sessions *sessions.Manager
}

// NewHub creates a new WebSocket hub.
func NewHub(bus *events.Bus, manager *sessions.Manager) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		bus:      bus,
		sessions: manager,
	}
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "session", c.session.ID(), "clients", len(h.clients))
}

// unregister removes a client from the hub.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.out.close()
		slog.Info("ws client disconnected", "session", c.session.ID(), "clients", len(h.clients))
	}
}

// Clients returns the number of connected panels.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles a WebSocket upgrade and manages the panel lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	sess := h.sessions.Open()
	client := &Client{
		conn:    conn,
		out:     newOutbox(256),
		hub:     h,
		session: sess,
	}

	h.register(client)
	unsubscribe := h.bus.SubscribeFunc(client.forward, events.SessionFilter(sess.ID()))

	ctx := r.Context()
	go client.writePump(ctx)

	client.push(EventSession, SessionPayload{SessionID: sess.ID(), Model: sess.Info().Model})
	client.readPump(ctx, unsubscribe)
}

// forward relays the session's bus events to the panel.
func (c *Client) forward(e events.Event) {
	if e.Type == events.EventConversationCleared {
		c.push(EventClear, struct{}{})
		return
	}
	u, ok := sessions.UpdateFromEvent(e)
	if !ok {
		return
	}
	f, err := NewEventFrame(EventUpdate, c.session.ID(), UpdatePayload{
		Text:      u.Text,
		Final:     u.Final,
		Error:     u.Error,
		Cancelled: u.Cancelled,
		Seq:       u.Seq,
	})
	if err != nil {
		slog.Error("marshal event frame", "error", err)
		return
	}
	c.enqueue(f, !u.Final)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context, unsubscribe func()) {
	defer func() {
		unsubscribe()
		if err := c.hub.sessions.Close(c.session.ID()); err != nil {
			slog.Debug("ws session close", "error", err)
		}
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodSend:
		var params SendParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}

		turn, err := c.session.Start(ctx, params.Text)
		if err != nil {
			c.hub.bus.Publish(events.NewTypedEventWithSession(events.SourceWS, events.TurnRejectedPayload{
				Content: params.Text,
				Reason:  err.Error(),
			}, c.session.ID()))
			slog.Info("turn rejected", "session", c.session.ID(), "reason", err)
			c.sendError(frame.ID, err.Error())
			return
		}

		c.hub.bus.Publish(events.NewTypedEventWithSession(events.SourceWS, events.UserMessagePayload{
			Content: params.Text,
		}, c.session.ID()))
		c.sendOK(frame.ID, nil)

		// The read loop keeps serving cancel and reset while the turn streams.
		go turn.Run()

	case MethodReset:
		if err := c.session.Reset(); err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, nil)

	case MethodCancel:
		c.sendOK(frame.ID, CancelResult{Cancelled: c.session.Cancel()})

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-c.out.ready:
		case <-ctx.Done():
			return
		}
		frames, open := c.out.take()
		for _, msg := range frames {
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
		if !open {
			return
		}
	}
}

func (c *Client) push(event string, payload any) {
	f, err := NewEventFrame(event, c.session.ID(), payload)
	if err != nil {
		slog.Error("marshal event frame", "error", err)
		return
	}
	c.enqueue(f, false)
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	c.enqueue(f, false)
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	c.enqueue(f, false)
}

// enqueue queues a frame for the write loop. Only partial updates may be
// superseded; a panel that cannot take a final frame is disconnected.
func (c *Client) enqueue(f Frame, partial bool) {
	data, err := MarshalFrame(f)
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return
	}
	if !c.out.put(data, partial) {
		slog.Warn("ws client too slow, disconnecting", "session", c.session.ID(), "type", f.Type, "event", f.Event)
		go c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
	}
}

// Close shuts down all client connections. Their sessions are closed as
// the read loops exit.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}
