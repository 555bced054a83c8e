package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	in := InboundMessage{ID: "m1", ChatID: "123@s.whatsapp.net", Text: "hello", HasText: true, Type: TypeNotify}
	if ok := mb.PublishInbound(context.Background(), in); !ok {
		t.Fatal("expected inbound publish to succeed")
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected inbound consume to succeed")
	}
	if out != in {
		t.Fatalf("consumed %+v, want %+v", out, in)
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus(0)
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), InboundMessage{Text: "hello"}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}
	if ok := mb.PublishEvent(context.Background(), Event{Type: EventReplySent}); ok {
		t.Fatal("expected event publish to fail after close")
	}

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, InboundMessage{Text: "hello"}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventReplySent, RequestID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case got := <-eventsA:
		if got.Type != EventReplySent {
			t.Fatalf("event type = %q, want %q", got.Type, EventReplySent)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscriber A did not receive event")
	}

	select {
	case got := <-eventsB:
		if got.Type != EventReplySent {
			t.Fatalf("event type = %q, want %q", got.Type, EventReplySent)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscriber B did not receive event")
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventReplySent}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventReplyFallback}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventReplySent}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	ctx := context.Background()
	events, _ := mb.SubscribeEvents(ctx, 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}

func TestPublishInboundBlocksWhenQueueFull(t *testing.T) {
	mb := NewMessageBus(1)
	t.Cleanup(mb.Close)

	if ok := mb.PublishInbound(context.Background(), InboundMessage{ID: "1"}); !ok {
		t.Fatal("expected first publish to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := mb.PublishInbound(ctx, InboundMessage{ID: "2"}); ok {
		t.Fatal("expected publish to a full queue to give up when ctx ends")
	}
}

func TestTryPublishInboundNeverBlocks(t *testing.T) {
	mb := NewMessageBus(1)

	if ok := mb.TryPublishInbound(InboundMessage{ID: "1"}); !ok {
		t.Fatal("expected publish with room to succeed")
	}
	if ok := mb.TryPublishInbound(InboundMessage{ID: "2"}); ok {
		t.Fatal("expected publish to a full queue to fail immediately")
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok || out.ID != "1" {
		t.Fatalf("consumed %+v, want message 1", out)
	}

	mb.Close()
	if ok := mb.TryPublishInbound(InboundMessage{ID: "3"}); ok {
		t.Fatal("expected publish to fail after close")
	}
}

func TestUnsubscribeDuringPublishDoesNotPanic(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			mb.PublishEvent(ctx, Event{Type: EventReplySent})
		}
	}()

	for i := 0; i < 50; i++ {
		_, unsubscribe := mb.SubscribeEvents(ctx, 1)
		unsubscribe()
	}
	<-done
}

func TestReplyTo(t *testing.T) {
	msg := InboundMessage{SenderID: "111@s.whatsapp.net", ChatID: "222@g.us"}
	if got := msg.ReplyTo(); got != "222@g.us" {
		t.Fatalf("ReplyTo = %q, want chat id", got)
	}

	msg.ChatID = ""
	if got := msg.ReplyTo(); got != "111@s.whatsapp.net" {
		t.Fatalf("ReplyTo = %q, want sender id", got)
	}
}
