// ABOUTME: Per-frame protocol handling for worker connections
// ABOUTME: Routes requests, completes pending calls and publishes events

package gateway

import (
	"context"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/auth"
	"github.com/2389/actor-gateway/internal/metrics"
	"github.com/2389/actor-gateway/internal/wire"
)

// handleFrame processes one inbound frame from conn. It runs on the
// connection's receive goroutine; only forwarding a targeted request to its
// destination happens in the background.
func (g *Gateway) handleFrame(ctx context.Context, conn *agent.Connection, principal *auth.Principal, frame *wire.Frame) {
	kind := frame.Kind()
	g.metrics.FrameReceived(kind.String())

	switch kind {
	case wire.KindRequest:
		g.handleRequest(ctx, conn, principal, frame.Request)

	case wire.KindResponse:
		// Unmatched responses are logged by the pending table and dropped.
		conn.Pending().Complete(frame.Response)

	case wire.KindEvent:
		g.handleEvent(ctx, conn, frame.Event)

	default:
		g.logger.Warn("protocol error: malformed frame", "connection_id", conn.ID)
		g.reply(conn, failureFor(correlationOf(frame), ErrMalformedFrame))
	}
}

// correlationOf recovers a request id from a malformed frame when it has one.
func correlationOf(frame *wire.Frame) string {
	if frame == nil {
		return ""
	}
	if frame.Request != nil {
		return frame.Request.RequestID
	}
	return ""
}

func (g *Gateway) handleRequest(ctx context.Context, conn *agent.Connection, principal *auth.Principal, req *wire.Request) {
	if req.RequestID == "" {
		g.logger.Warn("protocol error: request without id", "connection_id", conn.ID, "method", req.Method)
		g.reply(conn, failureFor("", ErrMissingRequestID))
		return
	}

	if req.Target == nil {
		g.reply(conn, g.serveSelf(ctx, conn, principal, req))
		return
	}

	placement, err := g.directory.Resolve(ctx, *req.Target)
	if err != nil {
		g.logger.Debug("cannot place target",
			"request_id", req.RequestID,
			"target", req.Target.String(),
			"error", err,
		)
		g.metrics.Forwarded(routeNone, outcomeFor(nil, err), 0)
		g.reply(conn, failureFor(req.RequestID, err))
		return
	}

	if !g.beginForward() {
		g.reply(conn, failureFor(req.RequestID, ErrShuttingDown))
		return
	}
	go func() {
		defer g.inflight.Done()
		g.reply(conn, g.forward(ctx, req, placement))
	}()
}

// beginForward reserves a slot for one background forward. It fails once
// shutdown has started; callers that succeed must call inflight.Done.
func (g *Gateway) beginForward() bool {
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	if g.closing.Load() {
		return false
	}
	g.inflight.Add(1)
	return true
}

func (g *Gateway) handleEvent(ctx context.Context, conn *agent.Connection, ev *wire.Event) {
	if ev.Topic == "" {
		g.logger.Warn("protocol error: event without topic", "connection_id", conn.ID, "event_id", ev.ID)
		g.metrics.EventDropped(metrics.DropInvalid)
		return
	}

	if _, err := g.dispatcher.Publish(ctx, ev); err != nil {
		g.logger.Warn("publishing event", "event_id", ev.ID, "topic", ev.Topic, "error", err)
	}

	if g.peer != nil {
		if err := g.peer.PublishEvent(g.id, ev); err != nil {
			g.logger.Warn("relaying event to peers", "event_id", ev.ID, "topic", ev.Topic, "error", err)
		}
	}
}

// reply sends resp to conn. A closed connection has nobody left to answer.
func (g *Gateway) reply(conn *agent.Connection, resp *wire.Response) {
	if err := conn.Send(wire.ResponseFrame(resp)); err != nil {
		g.logger.Warn("sending response",
			"connection_id", conn.ID,
			"request_id", resp.RequestID,
			"error", err,
		)
	}
}
