// Package callbacks provides Eino callback handlers that bridge to the event bus.
package callbacks

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/dohr-michael/fastcoder/internal/events"
)

type startKey struct{}

// NewEventBusHandler creates a chat-model callback handler that publishes
// model.call events to the bus, tagged with the session ID found in ctx.
func NewEventBusHandler(bus *events.Bus) callbacks.Handler {
	publishTyped := func(ctx context.Context, payload events.EventPayload) {
		if sid := events.SessionIDFromContext(ctx); sid != "" {
			bus.Publish(events.NewTypedEventWithSession(events.SourceModel, payload, sid))
		} else {
			bus.Publish(events.NewTypedEvent(events.SourceModel, payload))
		}
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			publishTyped(ctx, events.ModelCallPayload{
				Phase:        "request",
				Model:        info.Name,
				MessageCount: len(input.Messages),
			})
			return context.WithValue(ctx, startKey{}, time.Now())
		},

		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			payload := events.ModelCallPayload{
				Phase:    "response",
				Model:    info.Name,
				Duration: since(ctx),
			}
			addUsage(&payload, output)
			publishTyped(ctx, payload)
			return ctx
		},

		OnEndWithStreamOutput: func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			// The handler owns this copy of the stream and must drain it.
			go func() {
				defer output.Close()
				payload := events.ModelCallPayload{Phase: "response", Model: info.Name}
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						payload.Phase = "error"
						payload.Error = err.Error()
						break
					}
					payload.Chunks++
					addUsage(&payload, chunk)
				}
				payload.Duration = since(ctx)
				publishTyped(ctx, payload)
			}()
			return ctx
		},

		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publishTyped(ctx, events.ModelCallPayload{
				Phase:    "error",
				Model:    info.Name,
				Duration: since(ctx),
				Error:    err.Error(),
			})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Handler()
}

// addUsage keeps the largest token counts seen; streaming backends report
// usage on the last chunk only.
func addUsage(p *events.ModelCallPayload, out *model.CallbackOutput) {
	if out == nil {
		return
	}
	usage := out.TokenUsage
	if usage == nil && out.Message != nil && out.Message.ResponseMeta != nil && out.Message.ResponseMeta.Usage != nil {
		u := out.Message.ResponseMeta.Usage
		usage = &model.TokenUsage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
	}
	if usage == nil {
		return
	}
	p.TokensInput = max(p.TokensInput, usage.PromptTokens)
	p.TokensOutput = max(p.TokensOutput, usage.CompletionTokens)
}

func since(ctx context.Context) time.Duration {
	start, ok := ctx.Value(startKey{}).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
