// ABOUTME: Fan-out of published events to every live connection hosting a subscribed agent type
// ABOUTME: Delivery is at-most-once per connection per publish, without retries

package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/dedupe"
	"github.com/2389/actor-gateway/internal/metrics"
	"github.com/2389/actor-gateway/internal/wire"
)

// Params configures a Dispatcher.
type Params struct {
	Registry    *agent.Registry
	Coordinator cluster.Coordinator
	Index       *SubscriptionIndex // local fallback; created when nil
	Seen        *dedupe.Cache      // optional duplicate-event suppression
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Dispatcher delivers published events to subscriber connections.
type Dispatcher struct {
	registry *agent.Registry
	coord    cluster.Coordinator
	index    *SubscriptionIndex
	seen     *dedupe.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(p Params) *Dispatcher {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Index == nil {
		p.Index = NewSubscriptionIndex()
	}
	return &Dispatcher{
		registry: p.Registry,
		coord:    p.Coordinator,
		index:    p.Index,
		seen:     p.Seen,
		metrics:  p.Metrics,
		logger:   p.Logger.With("component", "dispatcher"),
	}
}

// Index returns the local subscription cache.
func (d *Dispatcher) Index() *SubscriptionIndex {
	return d.index
}

// Publish sends ev to every live connection supporting an agent type that is
// subscribed to ev.Topic and handles ev.Type. It returns the number of
// connections the event was written to. No subscribers is not an error.
func (d *Dispatcher) Publish(ctx context.Context, ev *wire.Event) (int, error) {
	if ev.ID != "" && d.seen != nil && d.seen.CheckAndMark(ev.ID) {
		d.logger.Debug("duplicate event dropped", "event_id", ev.ID, "topic", ev.Topic)
		d.metrics.EventDropped(metrics.DropDuplicate)
		return 0, nil
	}

	types, err := d.subscribedTypes(ctx, ev)
	if err != nil {
		if ev.ID != "" && d.seen != nil {
			d.seen.Forget(ev.ID)
		}
		return 0, err
	}
	if len(types) == 0 {
		d.logger.Debug("no subscribers for event", "topic", ev.Topic, "type", ev.Type, "event_id", ev.ID)
		d.metrics.EventDropped(metrics.DropNoSubscribers)
		return 0, nil
	}

	// A connection supporting several matching types gets one copy.
	targets := make([]*agent.Connection, 0)
	picked := make(map[*agent.Connection]struct{})
	for _, t := range types {
		for _, conn := range d.registry.ConnectionsSupporting(t) {
			if _, dup := picked[conn]; dup {
				continue
			}
			picked[conn] = struct{}{}
			targets = append(targets, conn)
		}
	}

	frame := wire.EventFrame(ev)
	delivered := 0
	for _, conn := range targets {
		if !conn.IsActive() {
			continue
		}
		if err := conn.Send(frame); err != nil {
			d.logger.Warn("failed to deliver event",
				"connection_id", conn.ID,
				"topic", ev.Topic,
				"event_id", ev.ID,
				"error", err,
			)
			d.metrics.EventDropped(metrics.DropSendFailed)
			continue
		}
		delivered++
	}

	d.metrics.EventsDelivered(delivered)
	d.logger.Debug("event dispatched",
		"topic", ev.Topic,
		"type", ev.Type,
		"agent_types", types,
		"delivered", delivered,
	)
	return delivered, nil
}

// subscribedTypes asks the coordinator, falling back to the local index when
// the coordinator fails.
func (d *Dispatcher) subscribedTypes(ctx context.Context, ev *wire.Event) ([]string, error) {
	if d.coord == nil {
		return d.index.Handlers(ev.Topic, ev.Type), nil
	}
	types, err := d.coord.SubscribedAgentTypes(ctx, ev.Topic, ev.Type)
	if err == nil {
		return types, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("resolving subscribers: %w", err)
	}

	d.logger.Warn("coordinator unavailable, using local subscriptions",
		"topic", ev.Topic,
		"error", err,
	)
	return d.index.Handlers(ev.Topic, ev.Type), nil
}
