package sessions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dohr-michael/fastcoder/internal/conversation"
	"github.com/dohr-michael/fastcoder/internal/events"
)

// Turn is one prompt-to-reply exchange in flight.
type Turn struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	number  int
	history []conversation.Message

	buf       strings.Builder
	fragments int
}

// Run streams the reply and reports it to the session's Sink. It blocks
// until the model finishes, fails, or the turn is cancelled.
func (t *Turn) Run() {
	s := t.session
	defer func() {
		t.cancel()
		s.release()
	}()

	start := time.Now()
	ctx := events.ContextWithSessionID(t.ctx, s.id)
	slog.Debug("turn started", "session", s.id, "turn", t.number, "messages", len(t.history))

	stream, err := s.streamer.StreamChat(ctx, t.history)
	if err != nil {
		t.fail(err, start)
		return
	}
	defer stream.Close()

	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.fail(err, start)
			return
		}
		if ctx.Err() != nil {
			t.fail(ctx.Err(), start)
			return
		}

		t.buf.WriteString(fragment)
		t.fragments++
		s.sink.Update(Update{Text: t.buf.String(), Seq: t.fragments})
	}

	// The stream may end cleanly right after a cancel; honour the cancel.
	if ctx.Err() != nil {
		t.fail(ctx.Err(), start)
		return
	}

	reply := t.buf.String()
	s.commit(reply)
	s.sink.Update(Update{Text: reply, Final: true, Seq: t.fragments + 1})

	slog.Info("turn done",
		"session", s.id,
		"turn", t.number,
		"fragments", t.fragments,
		"chars", len(reply),
		"duration", time.Since(start),
	)
}

// fail ends the turn without committing an assistant message.
func (t *Turn) fail(err error, start time.Time) {
	s := t.session
	seq := t.fragments + 1

	if t.ctx.Err() != nil && errors.Is(t.ctx.Err(), context.Canceled) {
		slog.Info("turn cancelled", "session", s.id, "turn", t.number, "fragments", t.fragments)
		s.sink.Update(Update{Text: t.buf.String(), Final: true, Cancelled: true, Seq: seq})
		return
	}

	slog.Warn("turn failed",
		"session", s.id,
		"turn", t.number,
		"fragments", t.fragments,
		"duration", time.Since(start),
		"error", err,
	)
	s.sink.Update(Update{Text: ErrorText(err), Final: true, Error: true, Seq: seq})
}

// ErrorText renders a backend failure the way the panel shows it.
func ErrorText(err error) string {
	return "Error: " + err.Error()
}
