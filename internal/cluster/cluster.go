// ABOUTME: Coordinator interface for cluster-wide membership, type registration and subscriptions.
// ABOUTME: Shared types and helpers used by every coordinator backend.

package cluster

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"

	"github.com/2389/actor-gateway/internal/wire"
)

var (
	// ErrAgentNotFound indicates no gateway in the cluster can host the agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrSubscriptionNotFound indicates the subscription id is unknown.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUnknownBackend indicates an unsupported coordinator backend name.
	ErrUnknownBackend = errors.New("unknown cluster backend")
)

// GatewayRef identifies a gateway in the cluster.
type GatewayRef struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
}

// Coordinator is the cluster-wide source of truth for gateway membership,
// agent-type registration, cross-gateway placement and topic subscriptions.
type Coordinator interface {
	// LookupAgent finds the gateway that should host id on behalf of requester,
	// which has no local worker for the agent's type. It reuses a live placement
	// on another gateway or records a new one (fresh is true). Returns
	// ErrAgentNotFound if no other live gateway has registered the type.
	LookupAgent(ctx context.Context, requester string, id wire.AgentID) (ref GatewayRef, fresh bool, err error)

	// SubscribedAgentTypes returns the de-duplicated agent types subscribed to
	// topic whose registration handles eventType.
	SubscribedAgentTypes(ctx context.Context, topic, eventType string) ([]string, error)

	RegisterAgentType(ctx context.Context, gatewayID string, reg wire.TypeRegistration) error
	UnregisterAgentType(ctx context.Context, gatewayID, agentType string) error

	AddSubscription(ctx context.Context, sub wire.Subscription) error
	RemoveSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context, agentType string) ([]wire.Subscription, error)

	// AddGateway announces (or refreshes) a live gateway.
	AddGateway(ctx context.Context, ref GatewayRef) error
	// RemoveGateway deregisters a gateway along with its registrations and placements.
	RemoveGateway(ctx context.Context, id string) error

	Close() error
}

// pickGateway chooses uniformly among candidates.
func pickGateway(candidates []GatewayRef) GatewayRef {
	return candidates[rand.IntN(len(candidates))]
}

// handles reports whether any registration accepts eventType.
func handles(regs []wire.TypeRegistration, eventType string) bool {
	return slices.ContainsFunc(regs, func(r wire.TypeRegistration) bool {
		return r.Handles(eventType)
	})
}

// sortedKeys returns the set's members in sorted order.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
