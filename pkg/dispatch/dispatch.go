// Package dispatch consumes the inbound queue and runs the reply pipeline for
// every actionable message on a bounded worker pool.
package dispatch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"wabridge/pkg/bus"
	"wabridge/pkg/reply"
)

// Rejection reasons reported by Accept.
const (
	ReasonNotNotify = "not_notify"
	ReasonFromSelf  = "from_self"
	ReasonNoText    = "no_text"
)

const defaultWorkers = 8

// Handler runs one message to completion.
type Handler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) reply.Decision
}

type Dispatcher struct {
	bus     *bus.MessageBus
	handler Handler
	workers int
	log     *slog.Logger
}

func New(mb *bus.MessageBus, handler Handler, workers int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		bus:     mb,
		handler: handler,
		workers: workers,
		log:     log.With("component", "dispatch"),
	}
}

// Accept reports whether msg is a live, text-bearing message from someone
// other than the bot itself.
func Accept(msg bus.InboundMessage) (bool, string) {
	switch {
	case msg.Type != bus.TypeNotify:
		return false, ReasonNotNotify
	case msg.FromMe:
		return false, ReasonFromSelf
	case !msg.HasText || msg.Text == "":
		return false, ReasonNoText
	default:
		return true, ""
	}
}

// Run consumes messages until ctx ends or the bus closes, then waits for
// in-flight tasks. Each accepted message is handled exactly once as its own
// task; tasks are not cancelled when ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.workers)

	taskCtx := context.WithoutCancel(ctx)

	d.log.Info("Dispatcher started", "workers", d.workers)
	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}

		if accepted, reason := Accept(msg); !accepted {
			d.log.Debug("Ignoring message", "message_id", msg.ID, "chat_id", msg.ChatID, "reason", reason)
			d.bus.PublishEvent(ctx, bus.Event{
				Type:      bus.EventMessageDropped,
				ChatID:    msg.ChatID,
				MessageID: msg.ID,
				Payload:   map[string]string{"reason": reason},
			})
			continue
		}

		// Blocks while every worker is busy.
		g.Go(func() error {
			decision := d.handler.Handle(taskCtx, msg)
			d.log.Debug("Message handled", "message_id", msg.ID, "decision", string(decision))
			return nil
		})
	}

	d.log.Info("Dispatcher stopping; waiting for in-flight replies")
	return g.Wait()
}
