package storage

import (
	"testing"

	"github.com/dohr-michael/fastcoder/internal/events"
)

func publishModelCall(bus *events.Bus, sessionID, phase string, tokensIn, tokensOut int) {
	payload := events.ModelCallPayload{
		Phase:        phase,
		Model:        "test-model",
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
	}
	bus.Publish(events.NewTypedEventWithSession(events.SourceModel, payload, sessionID))
}

func newTestTracker(t *testing.T) (*events.Bus, *UsageTracker) {
	t.Helper()
	bus := events.NewBus(64)
	ut := NewUsageTracker(bus)
	t.Cleanup(func() {
		ut.Close()
		bus.Close()
	})
	return bus, ut
}

func TestUsageTracker_Accumulation(t *testing.T) {
	bus, ut := newTestTracker(t)

	publishModelCall(bus, "sess_a", "response", 100, 50)
	publishModelCall(bus, "sess_a", "response", 200, 80)
	publishModelCall(bus, "sess_b", "response", 10, 5)

	waitFor(t, func() bool { return ut.Total().Calls == 3 })

	got := ut.Session("sess_a")
	if got.Input != 300 || got.Output != 130 || got.Calls != 2 {
		t.Errorf("sess_a usage: got %+v", got)
	}
	total := ut.Total()
	if total.Input != 310 || total.Output != 135 {
		t.Errorf("total usage: got %+v", total)
	}
}

func TestUsageTracker_PhaseFiltering(t *testing.T) {
	bus, ut := newTestTracker(t)

	publishModelCall(bus, "sess_a", "request", 999, 999)
	publishModelCall(bus, "sess_a", "error", 999, 999)
	publishModelCall(bus, "sess_a", "response", 1, 2)

	waitFor(t, func() bool { return ut.Total().Calls == 1 })

	if got := ut.Session("sess_a"); got.Input != 1 || got.Output != 2 {
		t.Errorf("expected only response phase counted, got %+v", got)
	}
}

func TestUsageTracker_ForgetsClosedSessions(t *testing.T) {
	bus, ut := newTestTracker(t)

	publishModelCall(bus, "sess_a", "response", 4, 4)
	bus.Publish(events.NewTypedEventWithSession(events.SourceSession, events.SessionClosedPayload{Turns: 1}, "sess_a"))

	waitFor(t, func() bool { return ut.Total().Calls == 1 && ut.Session("sess_a").Calls == 0 })

	if ut.Total().Input != 4 {
		t.Errorf("expected total kept after close, got %+v", ut.Total())
	}
}
