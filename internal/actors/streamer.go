package actors

import (
	"context"

	"github.com/dohr-michael/fastcoder/internal/conversation"
	"github.com/dohr-michael/fastcoder/internal/events"
	"github.com/dohr-michael/fastcoder/internal/models"
)

// LimitedStreamer holds a slot of the pool for the lifetime of each stream.
type LimitedStreamer struct {
	next     models.ChatStreamer
	pool     *ActorPool
	provider string
}

// Limit wraps next so that it never runs more streams than the provider has
// slots.
func Limit(next models.ChatStreamer, pool *ActorPool, provider string) *LimitedStreamer {
	return &LimitedStreamer{next: next, pool: pool, provider: provider}
}

func (l *LimitedStreamer) StreamChat(ctx context.Context, history []conversation.Message) (*models.Stream, error) {
	actor, err := l.pool.Acquire(ctx, l.provider, events.SessionIDFromContext(ctx))
	if err != nil {
		return nil, err
	}

	stream, err := l.next.StreamChat(ctx, history)
	if err != nil {
		l.pool.Release(actor)
		return nil, err
	}
	return stream.OnClose(func() { l.pool.Release(actor) }), nil
}
