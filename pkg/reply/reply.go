// Package reply decides whether and how to answer one inbound message.
package reply

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/completion"
)

// Decision is the outcome of one Handle call.
type Decision string

const (
	DecisionSkip     Decision = "skip"
	DecisionAttempt  Decision = "attempt"
	DecisionFallback Decision = "fallback"
)

// DefaultFallbackText is what a sender sees when the completion call fails.
const DefaultFallbackText = "⚠️ Bot encountered an error."

// Switch reports whether replies are currently allowed.
type Switch interface {
	RepliesEnabled() bool
}

type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Typist is implemented by senders that can show a typing indicator while a
// completion is in flight.
type Typist interface {
	StartTyping(ctx context.Context, to string) func()
}

// Counters receives pipeline outcomes.
type Counters interface {
	CompletionRequested(ctx context.Context)
	ReplySent(ctx context.Context)
	FallbackSent(ctx context.Context)
	DeliveryFailed(ctx context.Context)
}

// Options configures a Pipeline. An empty OffNotice skips disabled replies
// silently.
type Options struct {
	Switch       Switch
	Completer    completion.Completer
	Sender       Sender
	Counters     Counters
	Bus          *bus.MessageBus
	OffNotice    string
	FallbackText string
	Logger       *slog.Logger
}

// Pipeline holds no per-message state; Handle is safe to call concurrently.
type Pipeline struct {
	sw        Switch
	completer completion.Completer
	sender    Sender
	counters  Counters
	bus       *bus.MessageBus
	offNotice string
	fallback  string
	log       *slog.Logger
}

// New requires a Switch, a Completer and a Sender; Counters, Bus and Logger
// are optional.
func New(opts Options) (*Pipeline, error) {
	if opts.Switch == nil {
		return nil, errors.New("reply switch is required")
	}
	if opts.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("sender is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	counters := opts.Counters
	if counters == nil {
		counters = noopCounters{}
	}
	fallback := opts.FallbackText
	if fallback == "" {
		fallback = DefaultFallbackText
	}

	return &Pipeline{
		sw:        opts.Switch,
		completer: opts.Completer,
		sender:    opts.Sender,
		counters:  counters,
		bus:       opts.Bus,
		offNotice: opts.OffNotice,
		fallback:  fallback,
		log:       log.With("component", "reply.pipeline"),
	}, nil
}

// Handle runs to completion once started: a completion failure becomes the
// fallback text and a delivery failure is logged and dropped.
func (p *Pipeline) Handle(ctx context.Context, msg bus.InboundMessage) Decision {
	requestID := uuid.NewString()
	to := msg.ReplyTo()
	log := p.log.With("request_id", requestID, "chat_id", to, "message_id", msg.ID)

	if !p.sw.RepliesEnabled() {
		log.Debug("Replies disabled; skipping message")
		p.publish(ctx, bus.Event{Type: bus.EventReplySkipped, ChatID: to, MessageID: msg.ID, RequestID: requestID})
		if p.offNotice != "" {
			if err := p.sender.Send(ctx, to, p.offNotice); err != nil {
				log.Warn("Failed to send off notice", "error", err)
			}
		}
		return DecisionSkip
	}

	p.counters.CompletionRequested(ctx)
	log.Info("Requesting completion", "content", channel.PreviewText(msg.Text))

	stopTyping := func() {}
	if typist, ok := p.sender.(Typist); ok {
		stopTyping = typist.StartTyping(ctx, to)
	}
	text, err := p.completer.Complete(ctx, msg.Text)
	stopTyping()

	if err != nil {
		kind := "unknown"
		var f *completion.Failure
		if errors.As(err, &f) {
			kind = string(f.Kind)
		}
		log.Error("Completion failed; sending fallback", "kind", kind, "error", err)

		p.counters.FallbackSent(ctx)
		p.publish(ctx, bus.Event{
			Type:      bus.EventReplyFallback,
			ChatID:    to,
			MessageID: msg.ID,
			RequestID: requestID,
			Payload:   map[string]string{"kind": kind},
			Error:     err.Error(),
		})
		p.deliver(ctx, log, msg, requestID, p.fallback)
		return DecisionFallback
	}

	if p.deliver(ctx, log, msg, requestID, text) {
		p.counters.ReplySent(ctx)
		p.publish(ctx, bus.Event{Type: bus.EventReplySent, ChatID: to, MessageID: msg.ID, RequestID: requestID})
	}
	return DecisionAttempt
}

// deliver sends text once. Failures are counted and swallowed.
func (p *Pipeline) deliver(ctx context.Context, log *slog.Logger, msg bus.InboundMessage, requestID, text string) bool {
	to := msg.ReplyTo()
	if err := p.sender.Send(ctx, to, text); err != nil {
		log.Warn("Failed to deliver reply", "error", err)
		p.counters.DeliveryFailed(ctx)
		p.publish(ctx, bus.Event{
			Type:      bus.EventDeliveryFailed,
			ChatID:    to,
			MessageID: msg.ID,
			RequestID: requestID,
			Error:     err.Error(),
		})
		return false
	}

	log.Info("Reply sent", "content", channel.PreviewText(text))
	return true
}

func (p *Pipeline) publish(ctx context.Context, ev bus.Event) {
	if p.bus != nil {
		p.bus.PublishEvent(ctx, ev)
	}
}

type noopCounters struct{}

func (noopCounters) CompletionRequested(context.Context) {}
func (noopCounters) ReplySent(context.Context)           {}
func (noopCounters) FallbackSent(context.Context)        {}
func (noopCounters) DeliveryFailed(context.Context)      {}
