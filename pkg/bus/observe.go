package bus

import (
	"context"
	"log/slog"
)

// Observe logs every lifecycle event until ctx ends or the bus closes.
func (mb *MessageBus) Observe(ctx context.Context, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := mb.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"chat_id", event.ChatID,
		"message_id", event.MessageID,
		"request_id", event.RequestID,
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case EventDeliveryFailed, EventReplyFallback:
		log.Warn("Lifecycle event", append(attrs, "error", event.Error)...)
	case EventReplySent, EventSessionState:
		log.Info("Lifecycle event", attrs...)
	default:
		log.Debug("Lifecycle event", attrs...)
	}
}
