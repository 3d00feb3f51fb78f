package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// USER EVENTS
// =============================================================================

type UserMessagePayload struct {
	Content string `json:"content"`
}

func (UserMessagePayload) EventType() EventType { return EventUserMessage }

// TurnRejectedPayload reports a prompt that was not started.
type TurnRejectedPayload struct {
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

func (TurnRejectedPayload) EventType() EventType { return EventTurnRejected }

// =============================================================================
// ASSISTANT EVENTS
// =============================================================================

// AssistantStreamPayload carries the running transcript of the current turn.
// Content always holds everything received so far, not only the last fragment.
type AssistantStreamPayload struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
}

func (AssistantStreamPayload) EventType() EventType { return EventAssistantStream }

// AssistantMessagePayload is the final update of a turn.
type AssistantMessagePayload struct {
	Content   string `json:"content"`
	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

func (AssistantMessagePayload) EventType() EventType { return EventAssistantMessage }

type ConversationClearedPayload struct{}

func (ConversationClearedPayload) EventType() EventType { return EventConversationCleared }

// =============================================================================
// SESSION EVENTS
// =============================================================================

type SessionCreatedPayload struct {
	Model string `json:"model,omitempty"`
}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

type SessionClosedPayload struct {
	Messages int `json:"messages"`
	Turns    int `json:"turns"`
}

func (SessionClosedPayload) EventType() EventType { return EventSessionClosed }

// =============================================================================
// MODEL EVENTS
// =============================================================================

// ModelCallPayload reports one request to the model backend.
// Phase is "request", "response" or "error".
type ModelCallPayload struct {
	Phase        string        `json:"phase"`
	Model        string        `json:"model"`
	MessageCount int           `json:"message_count,omitempty"`
	Chunks       int           `json:"chunks,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (ModelCallPayload) EventType() EventType { return EventModelCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewTypedEventWithSession(source, payload, "")
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetUserMessagePayload(e Event) (UserMessagePayload, bool) {
	return ExtractPayload[UserMessagePayload](e)
}

func GetAssistantStreamPayload(e Event) (AssistantStreamPayload, bool) {
	return ExtractPayload[AssistantStreamPayload](e)
}

func GetAssistantMessagePayload(e Event) (AssistantMessagePayload, bool) {
	return ExtractPayload[AssistantMessagePayload](e)
}

func GetTurnRejectedPayload(e Event) (TurnRejectedPayload, bool) {
	return ExtractPayload[TurnRejectedPayload](e)
}

func GetModelCallPayload(e Event) (ModelCallPayload, bool) {
	return ExtractPayload[ModelCallPayload](e)
}
