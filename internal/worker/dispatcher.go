// Package worker runs queued webhook deliveries through the relays.
package worker

import (
	"context"
	"log/slog"
	"time"

	"medrelay/internal/observability"
	sqsqueue "medrelay/internal/queue/sqs"
	"medrelay/internal/relay"
)

type InboundRelay interface {
	Handle(ctx context.Context, pathEvent string, body []byte) (relay.Outcome, error)
}

type OutboundRelay interface {
	Handle(ctx context.Context, body []byte) (relay.Outcome, error)
}

// Dispatcher is the queue handler. The outbound secret was checked when the
// event was accepted, so it is not checked again here.
type Dispatcher struct {
	Inbound  InboundRelay
	Outbound OutboundRelay
	// JobTimeout bounds one relay run; zero means no extra bound.
	JobTimeout time.Duration
}

// Process returns an error only when a redelivery could succeed, which keeps
// the message on the queue.
func (d *Dispatcher) Process(ctx context.Context, ev sqsqueue.RelayEvent) error {
	if d.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	var (
		out relay.Outcome
		err error
	)
	switch ev.Direction {
	case relay.DirectionInbound:
		out, err = d.Inbound.Handle(ctx, ev.Event, ev.Body)
	case relay.DirectionOutbound:
		out, err = d.Outbound.Handle(ctx, ev.Body)
	default:
		slog.Error("relay event with unknown direction dropped", "event_id", ev.ID, "direction", ev.Direction)
		observability.QueueEvents.WithLabelValues("unknown", "dropped").Inc()
		return nil
	}

	result := "done"
	if err != nil {
		result = "retry"
	}
	observability.QueueEvents.WithLabelValues(ev.Direction, result).Inc()
	slog.Info("relay job finish",
		"event_id", ev.ID,
		"direction", ev.Direction,
		"relayed", out.Relayed,
		"ignored", out.Ignored,
		"queued_for", time.Since(ev.ReceivedAt).String(),
		"duration", time.Since(start),
		"retry", err != nil,
	)
	return err
}
