package events

import "testing"

func TestTypedEvent_UserMessage(t *testing.T) {
	evt := NewTypedEvent(SourceWS, UserMessagePayload{Content: "hello"})

	if evt.Type != EventUserMessage {
		t.Fatalf("expected type %q, got %q", EventUserMessage, evt.Type)
	}
	got, ok := GetUserMessagePayload(evt)
	if !ok {
		t.Fatal("GetUserMessagePayload returned false")
	}
	if got.Content != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", got.Content)
	}
}

func TestTypedEvent_AssistantStream(t *testing.T) {
	evt := NewTypedEventWithSession(SourceSession, AssistantStreamPayload{Content: "Hello", Index: 2}, "sess_1")

	if evt.SessionID != "sess_1" {
		t.Fatalf("expected session sess_1, got %q", evt.SessionID)
	}
	got, ok := GetAssistantStreamPayload(evt)
	if !ok {
		t.Fatal("GetAssistantStreamPayload returned false")
	}
	if got.Content != "Hello" || got.Index != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestTypedEvent_AssistantMessageCancelled(t *testing.T) {
	evt := NewTypedEvent(SourceSession, AssistantMessagePayload{Content: "par", Cancelled: true})

	got, ok := GetAssistantMessagePayload(evt)
	if !ok {
		t.Fatal("GetAssistantMessagePayload returned false")
	}
	if !got.Cancelled || got.Content != "par" || got.Error != "" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestExtractPayload_WrongType(t *testing.T) {
	evt := NewTypedEvent(SourceWS, UserMessagePayload{Content: "hello"})
	if _, ok := GetAssistantMessagePayload(evt); ok {
		t.Fatal("expected extraction to fail for mismatched event type")
	}
}

func TestTypedEvent_TurnRejected(t *testing.T) {
	evt := NewTypedEventWithSession(SourceWS, TurnRejectedPayload{Content: "again", Reason: "busy"}, "sess_1")
	got, ok := GetTurnRejectedPayload(evt)
	if !ok || got.Reason != "busy" || got.Content != "again" {
		t.Fatalf("unexpected payload: %+v (ok=%v)", got, ok)
	}
}
