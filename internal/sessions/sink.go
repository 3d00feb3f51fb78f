package sessions

import (
	"github.com/dohr-michael/fastcoder/internal/events"
)

// BusSink publishes session updates on the event bus, tagged with the session ID.
type BusSink struct {
	bus       *events.Bus
	sessionID string
}

// NewBusSink returns a Sink that publishes to bus.
func NewBusSink(bus *events.Bus, sessionID string) *BusSink {
	return &BusSink{bus: bus, sessionID: sessionID}
}

func (b *BusSink) Update(u Update) {
	if !u.Final {
		b.publish(events.AssistantStreamPayload{Content: u.Text, Index: u.Seq})
		return
	}

	payload := events.AssistantMessagePayload{Cancelled: u.Cancelled}
	if u.Error {
		payload.Error = u.Text
	} else {
		payload.Content = u.Text
	}
	b.publish(payload)
}

func (b *BusSink) Clear() {
	b.publish(events.ConversationClearedPayload{})
}

func (b *BusSink) publish(p events.EventPayload) {
	b.bus.Publish(events.NewTypedEventWithSession(events.SourceSession, p, b.sessionID))
}

// UpdateFromEvent converts a bus event back into a session Update.
// ok is false for events that are not updates.
func UpdateFromEvent(e events.Event) (u Update, ok bool) {
	switch e.Type {
	case events.EventAssistantStream:
		p, ok := events.GetAssistantStreamPayload(e)
		if !ok {
			return Update{}, false
		}
		return Update{Text: p.Content, Seq: p.Index}, true
	case events.EventAssistantMessage:
		p, ok := events.GetAssistantMessagePayload(e)
		if !ok {
			return Update{}, false
		}
		if p.Error != "" {
			return Update{Text: p.Error, Final: true, Error: true}, true
		}
		return Update{Text: p.Content, Final: true, Cancelled: p.Cancelled}, true
	}
	return Update{}, false
}
