// Package events provides an in-memory event bus using Go channels.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed = errors.New("event bus is closed")
)

// EventType represents the type of event.
type EventType string

const (
	// UI → Session
	EventUserMessage EventType = "user.message"

	// Session → UI
	EventAssistantStream     EventType = "assistant.stream"
	EventAssistantMessage    EventType = "assistant.message"
	EventConversationCleared EventType = "conversation.cleared"
	EventTurnRejected        EventType = "turn.rejected"

	// Session lifecycle
	EventSessionCreated EventType = "session.created"
	EventSessionClosed  EventType = "session.closed"

	// Model backend telemetry
	EventModelCall EventType = "model.call"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceSession EventSource = "session"
	SourceWS      EventSource = "ws"
	SourceCLI     EventSource = "cli"
	SourceModel   EventSource = "model"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Filter selects the events a subscription receives.
type Filter func(Event) bool

// Transient reports whether a later event of the same type supersedes this
// one. Transient events are the only ones dropped for a slow subscriber.
func (t EventType) Transient() bool {
	return t == EventAssistantStream
}

// subscription delivers events to one handler, in publish order, from a
// dedicated goroutine.
type subscription struct {
	id      int
	filter  Filter
	handler Subscriber
	limit   int

	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newSubscription(id int, filter Filter, handler Subscriber, limit int) *subscription {
	return &subscription{
		id:      id,
		filter:  filter,
		handler: handler,
		limit:   limit,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// deliver queues an event without blocking the dispatcher. When the queue
// is full the oldest transient event is evicted; a transient event with
// nothing to evict is dropped. Other events are kept up to a hard cap of
// four times the limit.
func (s *subscription) deliver(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.pending) >= s.limit && !s.evictTransient() {
		if e.Type.Transient() || len(s.pending) >= 4*s.limit {
			s.mu.Unlock()
			slog.Warn("event dropped, subscriber too slow", "type", e.Type, "session", e.SessionID)
			return
		}
	}
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// evictTransient removes the oldest queued transient event. Caller holds mu.
func (s *subscription) evictTransient() bool {
	for i, e := range s.pending {
		if e.Type.Transient() {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *subscription) run() {
	defer close(s.done)
	for range s.wake {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, e := range batch {
			s.handler(e)
		}
		if closed {
			return
		}
	}
}

// close stops the subscription once the events already queued are handled.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus is an in-memory event bus using Go channels.
//
// Delivery is at-most-once and ordered per subscriber: a subscriber sees
// events in publish order, and a slow subscriber loses superseded
// assistant.stream events rather than stalling the others.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	eventChan   chan Event
	bufferSize  int
	ringBuffer  *RingBuffer
	closed      bool
	done        chan struct{}
}

// NewBus creates a new event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b := &Bus{
		subscribers: make(map[int]*subscription),
		eventChan:   make(chan Event, bufferSize),
		bufferSize:  bufferSize,
		ringBuffer:  NewRingBuffer(bufferSize),
		done:        make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	for {
		select {
		case event := <-b.eventChan:
			b.ringBuffer.Add(event)
			b.notifySubscribers(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) notifySubscribers(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		sub.deliver(event)
	}
}

// Publish enqueues an event, blocking while the bus buffer is full.
// Events published after Close are discarded.
func (b *Bus) Publish(event Event) {
	_ = b.PublishAsync(context.Background(), event)
}

// PublishAsync enqueues an event with context cancellation support.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for specific event types (all types when
// none are given). Returns an unsubscribe function that waits for the
// handler to drain; it must not be called from inside the handler.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	return b.SubscribeFunc(handler, typeFilter(eventTypes))
}

// SubscribeFunc registers a handler for events accepted by filter.
func (b *Bus) SubscribeFunc(handler Subscriber, filter Filter) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := newSubscription(id, filter, handler, b.bufferSize)
	if b.closed {
		sub.close()
	} else {
		b.subscribers[id] = sub
	}
	go sub.run()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		sub.close()
		b.mu.Unlock()
		<-sub.done
	}
}

// SubscribeChan returns a channel that receives events.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	unsubscribe := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}, eventTypes...)

	return ch, func() {
		unsubscribe()
		close(ch)
	}
}

// SessionFilter accepts events belonging to one session.
func SessionFilter(sessionID string) Filter {
	return func(e Event) bool { return e.SessionID == sessionID }
}

func typeFilter(eventTypes []EventType) Filter {
	if len(eventTypes) == 0 {
		return nil
	}
	return func(e Event) bool {
		for _, t := range eventTypes {
			if t == e.Type {
				return true
			}
		}
		return false
	}
}

// History returns recent events from the ring buffer.
func (b *Bus) History(limit int) []Event {
	return b.ringBuffer.Get(limit)
}

// Close shuts down the event bus. Subscriber queues are closed; handlers
// finish the events already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	close(b.done)
	for id, sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, id)
	}
}

// RingBuffer is a circular buffer for storing recent events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := 0; i < n; i++ {
		result[i] = r.events[(start+i)%r.size]
	}
	return result
}
