// ABOUTME: Periodic liveness announcements of this gateway to the cluster coordinator
// ABOUTME: Re-registers local agent types after the coordinator lost track of the gateway

package gateway

import (
	"context"
	"time"

	"github.com/2389/actor-gateway/internal/wire"
)

// defaultAnnounceInterval applies when gateway.announce_interval is unset.
const defaultAnnounceInterval = 15 * time.Second

// runLiveness announces the gateway immediately and then every announce
// interval until ctx is done. Failures are logged and retried on the next tick.
func (g *Gateway) runLiveness(ctx context.Context) {
	interval := g.config.Gateway.AnnounceInterval
	if interval <= 0 {
		interval = defaultAnnounceInterval
	}

	healthy := g.announce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok := g.announce(ctx)
			if ok && (g.reregisterPending.Swap(false) || !healthy) {
				g.reregister(ctx)
			}
			healthy = ok
		}
	}
}

// announce refreshes this gateway's liveness entry. It reports success.
func (g *Gateway) announce(ctx context.Context) bool {
	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := g.coord.AddGateway(actx, g.ref); err != nil {
		if ctx.Err() == nil {
			g.logger.Warn("announcing gateway", "error", err)
			g.metrics.AnnounceFailed()
		}
		return false
	}
	g.logger.Debug("gateway announced", "address", g.ref.Address)
	return true
}

// reregister restores this gateway's type registrations, which a coordinator
// may have expired while announcements were failing or never received.
func (g *Gateway) reregister(ctx context.Context) {
	g.registrations.Range(func(_, v any) bool {
		reg := v.(wire.TypeRegistration)
		if err := g.coord.RegisterAgentType(ctx, g.id, reg); err != nil {
			g.logger.Warn("re-registering agent type", "agent_type", reg.AgentType, "error", err)
			g.reregisterPending.Store(true)
			return ctx.Err() == nil
		}
		return true
	})
	g.logger.Info("gateway re-announced to cluster")
}

// deregister removes this gateway, its registrations and placements from the cluster.
func (g *Gateway) deregister(ctx context.Context) error {
	if err := g.coord.RemoveGateway(ctx, g.id); err != nil {
		g.logger.Warn("deregistering gateway", "error", err)
		return err
	}
	g.logger.Info("gateway deregistered")
	return nil
}
