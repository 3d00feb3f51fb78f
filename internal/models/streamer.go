// Package models adapts local chat-completion backends to a fragment stream.
package models

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/fastcoder/internal/conversation"
	"github.com/dohr-michael/fastcoder/internal/events"
)

// ErrEmptyConversation is returned when a stream is requested without context.
var ErrEmptyConversation = errors.New("conversation is empty")

// ChatStreamer produces the reply to a conversation as a stream of text
// fragments. Each call starts a new, independent stream; cancelling ctx
// aborts the underlying request.
type ChatStreamer interface {
	StreamChat(ctx context.Context, history []conversation.Message) (*Stream, error)
}

// Stream is a finite, single-use sequence of text fragments in the order the
// model generated them.
type Stream struct {
	reader  *schema.StreamReader[*schema.Message]
	once    sync.Once
	onClose []func()
}

// NewStream wraps an eino message stream.
func NewStream(reader *schema.StreamReader[*schema.Message]) *Stream {
	return &Stream{reader: reader}
}

// Recv returns the next non-empty fragment. It returns io.EOF once the model
// has finished.
func (s *Stream) Recv() (string, error) {
	for {
		chunk, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", HandleError(err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}
}

// OnClose registers fn to run once, after the transport is released.
func (s *Stream) OnClose(fn func()) *Stream {
	s.onClose = append(s.onClose, fn)
	return s
}

// Close releases the underlying transport. It is safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.reader.Close()
		for _, fn := range s.onClose {
			fn()
		}
	})
}

// EinoStreamer is a ChatStreamer backed by an eino chat model.
type EinoStreamer struct {
	model    model.BaseChatModel
	name     string
	handlers []callbacks.Handler
}

// NewStreamer returns a ChatStreamer for m. name identifies the model in
// logs and callbacks.
func NewStreamer(m model.BaseChatModel, name string, handlers ...callbacks.Handler) *EinoStreamer {
	return &EinoStreamer{model: m, name: name, handlers: handlers}
}

// Name returns the model identifier.
func (s *EinoStreamer) Name() string {
	return s.name
}

// StreamChat sends the whole conversation and streams the reply.
func (s *EinoStreamer) StreamChat(ctx context.Context, history []conversation.Message) (*Stream, error) {
	if len(history) == 0 {
		return nil, ErrEmptyConversation
	}

	input := ToSchemaMessages(history)
	slog.Debug("model stream",
		"model", s.name,
		"messages", len(input),
		"session", events.SessionIDFromContext(ctx),
	)

	if len(s.handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      s.name,
			Component: components.ComponentOfChatModel,
		}, s.handlers...)
	}

	reader, err := s.model.Stream(ctx, input)
	if err != nil {
		return nil, HandleError(err)
	}
	return NewStream(reader), nil
}

// ToSchemaMessages converts conversation messages to eino messages, keeping order.
func ToSchemaMessages(history []conversation.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		role := schema.User
		if m.Role == conversation.RoleAssistant {
			role = schema.Assistant
		}
		out = append(out, &schema.Message{Role: role, Content: m.Content})
	}
	return out
}
