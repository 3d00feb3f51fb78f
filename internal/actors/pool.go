package actors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dohr-michael/fastcoder/internal/config"
)

// ActorPool hands out capacity slots. Acquire blocks until a slot of the
// provider is idle or ctx is done.
type ActorPool struct {
	mu     sync.Mutex
	actors []*Actor
	wake   chan struct{} // closed and replaced on every release
}

// NewActorPool creates one slot per max_concurrent of each provider.
func NewActorPool(providers map[string]config.ProviderConfig) *ActorPool {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var actors []*Actor
	for _, name := range names {
		n := providers[name].MaxConcurrent
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			actors = append(actors, &Actor{
				ID:           fmt.Sprintf("%s-%d", name, i),
				ProviderName: name,
				Status:       ActorIdle,
			})
		}
	}

	return &ActorPool{
		actors: actors,
		wake:   make(chan struct{}),
	}
}

// Acquire reserves an idle slot of providerName for a session.
func (p *ActorPool) Acquire(ctx context.Context, providerName, sessionID string) (*Actor, error) {
	waited := false
	for {
		p.mu.Lock()
		actor, known := p.findIdleActor(providerName)
		if actor != nil {
			actor.Status = ActorBusy
			actor.Session = sessionID
			p.mu.Unlock()
			if waited {
				slog.Debug("actor acquired after wait", "actor", actor.ID, "session", sessionID)
			}
			return actor, nil
		}
		wake := p.wake
		p.mu.Unlock()

		if !known {
			return nil, fmt.Errorf("no actors configured for provider %q", providerName)
		}

		if !waited {
			slog.Info("model busy, waiting for a free slot", "provider", providerName, "session", sessionID)
			waited = true
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release frees a capacity slot and wakes waiters.
func (p *ActorPool) Release(actor *Actor) {
	if actor == nil {
		return
	}
	p.mu.Lock()
	actor.Status = ActorIdle
	actor.Session = ""
	close(p.wake)
	p.wake = make(chan struct{})
	p.mu.Unlock()
}

// Actors returns a snapshot of all slots.
func (p *ActorPool) Actors() []Actor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Actor, len(p.actors))
	for i, a := range p.actors {
		out[i] = *a
	}
	return out
}

// findIdleActor must be called with p.mu held. known reports whether the
// provider has any slot at all.
func (p *ActorPool) findIdleActor(providerName string) (actor *Actor, known bool) {
	for _, a := range p.actors {
		if a.ProviderName != providerName {
			continue
		}
		known = true
		if a.Status == ActorIdle {
			return a, true
		}
	}
	return nil, known
}
