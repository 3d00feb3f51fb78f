// Package sessions coordinates chat turns for one panel at a time.
//
// A Session owns a conversation and a busy flag. It runs at most one turn at
// once: the user message is committed, the model is streamed with the full
// history, every fragment is folded into a running transcript that is pushed
// to the Sink, and the assistant reply is committed only when the stream ends
// cleanly.
package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/fastcoder/internal/conversation"
	"github.com/dohr-michael/fastcoder/internal/models"
)

var (
	ErrTurnInProgress  = errors.New("a response is still streaming")
	ErrEmptyInput      = errors.New("prompt is empty")
	ErrSessionNotFound = errors.New("session not found")
)

// State is the coordinator state.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

// Update is pushed to the UI while a turn runs. Text is the whole transcript
// of the turn so far; the last update of a turn has Final set.
type Update struct {
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	Error     bool   `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Seq       int    `json:"seq"`
}

// Sink receives the outbound half of the UI protocol. Implementations must
// not block for long and must not call back into the Session.
type Sink interface {
	Update(u Update)
	Clear()
}

// Info is a snapshot of session metadata.
type Info struct {
	ID        string    `json:"id"`
	Model     string    `json:"model,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"message_count"`
	Turns     int       `json:"turns"`
}

// Config holds the dependencies of a Session.
type Config struct {
	ID       string
	Model    string
	Streamer models.ChatStreamer
	Sink     Sink
}

// Session is the turn coordinator of one panel.
type Session struct {
	id        string
	model     string
	streamer  models.ChatStreamer
	sink      Sink
	createdAt time.Time

	mu        sync.Mutex
	conv      *conversation.Conversation
	streaming bool
	cancel    context.CancelFunc
	turns     int
	updatedAt time.Time
}

// New creates an idle session with an empty conversation.
func New(cfg Config) *Session {
	now := time.Now()
	return &Session{
		id:        cfg.ID,
		model:     cfg.Model,
		streamer:  cfg.Streamer,
		sink:      cfg.Sink,
		createdAt: now,
		updatedAt: now,
		conv:      conversation.New(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Submit runs one turn to completion. It returns ErrEmptyInput or
// ErrTurnInProgress without side effects when the turn cannot start; model
// failures are reported through the Sink, not as an error.
func (s *Session) Submit(ctx context.Context, text string) error {
	turn, err := s.Start(ctx, text)
	if err != nil {
		return err
	}
	turn.Run()
	return nil
}

// Start reserves the session for a new turn and commits the user message.
// The returned Turn must be Run exactly once to release the session.
func (s *Session) Start(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return nil, ErrTurnInProgress
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.streaming = true
	s.cancel = cancel
	s.turns++
	s.updatedAt = time.Now()
	s.conv.Append(conversation.UserMessage(text))

	return &Turn{
		session: s,
		ctx:     turnCtx,
		cancel:  cancel,
		number:  s.turns,
		history: s.conv.Messages(),
	}, nil
}

// Cancel aborts the in-flight turn. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.streaming || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Reset empties the conversation and emits Clear. It is refused while a
// turn is streaming.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return ErrTurnInProgress
	}
	s.conv.Reset()
	s.updatedAt = time.Now()
	s.sink.Clear()
	return nil
}

// State reports whether a turn is in flight.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return StateStreaming
	}
	return StateIdle
}

// History returns a copy of the conversation.
func (s *Session) History() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Messages()
}

// Info returns a metadata snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := StateIdle
	if s.streaming {
		state = StateStreaming
	}
	return Info{
		ID:        s.id,
		Model:     s.model,
		State:     state,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Messages:  s.conv.Len(),
		Turns:     s.turns,
	}
}

func (s *Session) commit(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Append(conversation.AssistantMessage(reply))
	s.updatedAt = time.Now()
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	s.cancel = nil
}
