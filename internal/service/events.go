package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/arbor/internal/adapter/otel"
	"github.com/Strob0t/arbor/internal/domain/event"
	"github.com/Strob0t/arbor/internal/logger"
	"github.com/Strob0t/arbor/internal/port/broadcast"
	"github.com/Strob0t/arbor/internal/port/messagequeue"
	"github.com/Strob0t/arbor/internal/resilience"
)

// EventPublisher fans committed tree changes out to local websocket clients
// and, when a queue is set, to other instances. Delivery is best effort: a
// failure is logged and counted, never returned to the writer.
type EventPublisher struct {
	instance string
	hub      broadcast.Broadcaster
	queue    messagequeue.Queue
	breaker  *resilience.Breaker
	metrics  *otel.Metrics
	now      func() time.Time
}

// NewEventPublisher creates a publisher identified by instance. hub may be nil.
func NewEventPublisher(instance string, hub broadcast.Broadcaster) *EventPublisher {
	return &EventPublisher{instance: instance, hub: hub, now: time.Now}
}

// SetQueue enables cross-instance fan-out through q, guarded by breaker.
func (p *EventPublisher) SetQueue(q messagequeue.Queue, breaker *resilience.Breaker) {
	p.queue = q
	p.breaker = breaker
}

// SetMetrics sets the instruments used to count dropped events.
func (p *EventPublisher) SetMetrics(m *otel.Metrics) {
	p.metrics = m
}

// Instance returns the id stamped on events from this process.
func (p *EventPublisher) Instance() string { return p.instance }

// Publish stamps ev with this instance, the request ID and the time, then
// delivers it.
func (p *EventPublisher) Publish(ctx context.Context, ev event.TreeEvent) {
	ev.Instance = p.instance
	ev.RequestID = logger.RequestID(ctx)
	ev.OccurredAt = p.now().UTC()

	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, ev.ForestID, string(ev.Type), ev)
	}
	if p.queue == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal tree event", "type", ev.Type, "error", err)
		return
	}
	err = p.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return p.queue.Publish(ctx, ev.Subject(), data)
	})
	if err != nil {
		slog.Warn("tree event not published", "subject", ev.Subject(), "revision", ev.Revision, "error", err)
		if p.metrics != nil {
			p.metrics.EventsDropped.Add(ctx, 1)
		}
	}
}

// Relay forwards tree events published by other instances to the local hub.
// Events carrying this instance's id were already broadcast and are skipped.
func (p *EventPublisher) Relay(ctx context.Context) (stop func(), err error) {
	if p.queue == nil || p.hub == nil {
		return func() {}, nil
	}
	stop, err = p.queue.Subscribe(ctx, messagequeue.SubjectTreeAll, p.relayHandler)
	if err != nil {
		return nil, fmt.Errorf("subscribe tree events: %w", err)
	}
	slog.Info("tree event relay started", "instance", p.instance)
	return stop, nil
}

func (p *EventPublisher) relayHandler(ctx context.Context, _ string, data []byte) error {
	var ev event.TreeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode tree event: %w", err)
	}
	if ev.Instance == p.instance {
		return nil
	}
	p.hub.BroadcastEvent(ctx, ev.ForestID, string(ev.Type), ev)
	return nil
}
