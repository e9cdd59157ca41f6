// ABOUTME: Forwards targeted requests to the placed worker or to the owning peer gateway
// ABOUTME: Responses are re-correlated to the caller's original request id

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/actor-gateway/internal/directory"
	"github.com/2389/actor-gateway/internal/wire"
)

// Routes used to label forwarding metrics.
const (
	routeLocal  = "local"
	routeRemote = "remote"
	routePeer   = "peer"
	routeNone   = "none"
)

// forward delivers req to its placement and returns exactly one response
// carrying req.RequestID.
func (g *Gateway) forward(ctx context.Context, req *wire.Request, p directory.Placement) *wire.Response {
	start := time.Now()

	route := routeLocal
	var resp *wire.Response
	var err error
	if p.IsLocal() {
		resp, err = p.Local.Call(ctx, req, g.config.Gateway.ResponseTimeout)
	} else {
		route = routeRemote
		resp, err = g.forwardRemote(ctx, req, p)
	}

	g.metrics.Forwarded(route, outcomeFor(resp, err), time.Since(start))

	if err != nil {
		g.logger.Debug("forwarding failed",
			"request_id", req.RequestID,
			"target", req.Target.String(),
			"route", route,
			"error", err,
		)
		return failureFor(req.RequestID, err)
	}

	out := *resp
	out.RequestID = req.RequestID
	return &out
}

func (g *Gateway) forwardRemote(ctx context.Context, req *wire.Request, p directory.Placement) (*wire.Response, error) {
	if g.peer == nil {
		return nil, fmt.Errorf("%w: agent %s placed on %s", ErrNoPeerBus, req.Target, p.Remote.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Gateway.ResponseTimeout)
	defer cancel()

	return g.peer.Forward(ctx, *p.Remote, req)
}

// HandlePeerRequest answers a request forwarded by another gateway. The
// target must be hosted by a local worker; peer requests are never forwarded
// again.
func (g *Gateway) HandlePeerRequest(ctx context.Context, req *wire.Request) *wire.Response {
	g.metrics.FrameReceived("peer_request")

	if req.Target == nil {
		return failureFor(req.RequestID, fmt.Errorf("%w: peer requests must carry a target", ErrBadPayload))
	}
	if g.closing.Load() {
		return failureFor(req.RequestID, ErrShuttingDown)
	}

	start := time.Now()
	p, err := g.directory.ResolveLocal(*req.Target)
	if err != nil {
		g.metrics.Forwarded(routePeer, outcomeFor(nil, err), time.Since(start))
		return failureFor(req.RequestID, err)
	}

	resp, err := p.Local.Call(ctx, req, g.config.Gateway.ResponseTimeout)
	g.metrics.Forwarded(routePeer, outcomeFor(resp, err), time.Since(start))
	if err != nil {
		return failureFor(req.RequestID, err)
	}

	out := *resp
	out.RequestID = req.RequestID
	return &out
}
