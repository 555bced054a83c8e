// Package analytics counts reply pipeline outcomes for the control surface and
// mirrors each count onto OpenTelemetry counters for export.
package analytics

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentPrefix = "wabridge_"

// Snapshot is the JSON shape served by GET /api/analytics.
type Snapshot struct {
	CompletionRequests int64 `json:"gptRequests"`
	RepliesSent        int64 `json:"repliesSent"`
	Fallbacks          int64 `json:"fallbacks"`
	DeliveryFailures   int64 `json:"deliveryFailures"`
}

// counter pairs the in-process value read by Snapshot with its exported
// instrument.
type counter struct {
	value      atomic.Int64
	instrument metric.Int64Counter
}

func (c *counter) add(ctx context.Context) {
	c.value.Add(1)
	c.instrument.Add(ctx, 1)
}

// Counters is safe for concurrent use by every pipeline invocation.
type Counters struct {
	completionRequests counter
	repliesSent        counter
	fallbacks          counter
	deliveryFailures   counter
}

// New registers the counter instruments on meter. A nil meter records
// in-process only.
func New(meter metric.Meter) (*Counters, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("wabridge")
	}

	c := &Counters{}
	instruments := []struct {
		dst  *counter
		name string
		desc string
		unit string
	}{
		{&c.completionRequests, "completion_requests_total", "Completion requests issued by the reply pipeline", "{request}"},
		{&c.repliesSent, "replies_sent_total", "Completion replies delivered to senders", "{message}"},
		{&c.fallbacks, "reply_fallbacks_total", "Fallback replies sent after a completion failure", "{message}"},
		{&c.deliveryFailures, "delivery_failures_total", "Replies that could not be delivered", "{message}"},
	}

	for _, in := range instruments {
		inst, err := meter.Int64Counter(
			instrumentPrefix+in.name,
			metric.WithDescription(in.desc),
			metric.WithUnit(in.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", in.name, err)
		}
		in.dst.instrument = inst
	}

	return c, nil
}

func (c *Counters) CompletionRequested(ctx context.Context) { c.completionRequests.add(ctx) }

func (c *Counters) ReplySent(ctx context.Context) { c.repliesSent.add(ctx) }

func (c *Counters) FallbackSent(ctx context.Context) { c.fallbacks.add(ctx) }

func (c *Counters) DeliveryFailed(ctx context.Context) { c.deliveryFailures.add(ctx) }

// Snapshot reads each counter independently; values may come from slightly
// different instants under concurrent writes.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		CompletionRequests: c.completionRequests.value.Load(),
		RepliesSent:        c.repliesSent.value.Load(),
		Fallbacks:          c.fallbacks.value.Load(),
		DeliveryFailures:   c.deliveryFailures.value.Load(),
	}
}
