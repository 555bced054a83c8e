// Package channel holds helpers shared by messaging transports.
package channel

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	previewLimit = 240
	// TypingRefreshInterval re-sends a typing indicator before clients
	// expire it.
	TypingRefreshInterval = 4 * time.Second
)

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= previewLimit {
		return trimmed
	}

	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}

// StartTyping calls send immediately and then every interval until the
// returned cancel function is called. The final call to send after cancel
// receives a context that is already done, letting transports clear the
// indicator.
func StartTyping(ctx context.Context, interval time.Duration, send func(context.Context, bool) error, log *slog.Logger) context.CancelFunc {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = TypingRefreshInterval
	}

	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func(ctx context.Context, composing bool) {
		if err := send(ctx, composing); err != nil && ctx.Err() == nil {
			log.Debug("Failed to send typing indicator", "composing", composing, "error", err)
		}
	}

	sendTyping(typingCtx, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				// Cleared on a detached context so the stop is not lost.
				stopCtx, stop := context.WithTimeout(context.WithoutCancel(typingCtx), interval)
				sendTyping(stopCtx, false)
				stop()
				return
			case <-ticker.C:
				sendTyping(typingCtx, true)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
