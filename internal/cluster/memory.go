// ABOUTME: In-process Coordinator used for single-gateway deployments and tests.
// ABOUTME: Gateway liveness expires after a TTL without an announce.

package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/actor-gateway/internal/wire"
)

type gatewayEntry struct {
	ref      GatewayRef
	lastSeen time.Time
}

// Memory is a Coordinator backed by process memory.
type Memory struct {
	mu            sync.RWMutex
	ttl           time.Duration
	gateways      map[string]gatewayEntry
	registrations map[string]map[string]wire.TypeRegistration // agent type -> gateway id
	placements    map[wire.AgentID]string                     // agent -> gateway id
	subscriptions map[string]wire.Subscription
	now           func() time.Time
}

// NewMemory creates a Memory coordinator. A zero ttl never expires gateways.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:           ttl,
		gateways:      make(map[string]gatewayEntry),
		registrations: make(map[string]map[string]wire.TypeRegistration),
		placements:    make(map[wire.AgentID]string),
		subscriptions: make(map[string]wire.Subscription),
		now:           time.Now,
	}
}

func (m *Memory) liveLocked(id string) (GatewayRef, bool) {
	e, ok := m.gateways[id]
	if !ok {
		return GatewayRef{}, false
	}
	if m.ttl > 0 && m.now().Sub(e.lastSeen) > m.ttl {
		return GatewayRef{}, false
	}
	return e.ref, true
}

// LookupAgent implements Coordinator.
func (m *Memory) LookupAgent(ctx context.Context, requester string, id wire.AgentID) (GatewayRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := m.registrations[id.Type]

	if gw, ok := m.placements[id]; ok {
		if _, registered := regs[gw]; registered && gw != requester {
			if ref, live := m.liveLocked(gw); live {
				return ref, false, nil
			}
		}
		delete(m.placements, id)
	}

	var candidates []GatewayRef
	for gw := range regs {
		if gw == requester {
			continue
		}
		if ref, live := m.liveLocked(gw); live {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return GatewayRef{}, false, ErrAgentNotFound
	}

	ref := pickGateway(candidates)
	m.placements[id] = ref.ID
	return ref, true, nil
}

// SubscribedAgentTypes implements Coordinator.
func (m *Memory) SubscribedAgentTypes(ctx context.Context, topic, eventType string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, sub := range m.subscriptions {
		if !sub.Matches(topic) {
			continue
		}
		regs := make([]wire.TypeRegistration, 0, len(m.registrations[sub.AgentType]))
		for _, r := range m.registrations[sub.AgentType] {
			regs = append(regs, r)
		}
		if handles(regs, eventType) {
			set[sub.AgentType] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// RegisterAgentType implements Coordinator.
func (m *Memory) RegisterAgentType(ctx context.Context, gatewayID string, reg wire.TypeRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byGateway, ok := m.registrations[reg.AgentType]
	if !ok {
		byGateway = make(map[string]wire.TypeRegistration)
		m.registrations[reg.AgentType] = byGateway
	}
	byGateway[gatewayID] = reg
	return nil
}

// UnregisterAgentType implements Coordinator.
func (m *Memory) UnregisterAgentType(ctx context.Context, gatewayID, agentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unregisterLocked(gatewayID, agentType)
	return nil
}

func (m *Memory) unregisterLocked(gatewayID, agentType string) {
	delete(m.registrations[agentType], gatewayID)
	if len(m.registrations[agentType]) == 0 {
		delete(m.registrations, agentType)
	}
	for id, gw := range m.placements {
		if gw == gatewayID && id.Type == agentType {
			delete(m.placements, id)
		}
	}
}

// AddSubscription implements Coordinator.
func (m *Memory) AddSubscription(ctx context.Context, sub wire.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = sub
	return nil
}

// RemoveSubscription implements Coordinator.
func (m *Memory) RemoveSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(m.subscriptions, id)
	return nil
}

// ListSubscriptions implements Coordinator.
func (m *Memory) ListSubscriptions(ctx context.Context, agentType string) ([]wire.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]wire.Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if agentType == "" || sub.AgentType == agentType {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddGateway implements Coordinator.
func (m *Memory) AddGateway(ctx context.Context, ref GatewayRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways[ref.ID] = gatewayEntry{ref: ref, lastSeen: m.now()}
	return nil
}

// RemoveGateway implements Coordinator.
func (m *Memory) RemoveGateway(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.gateways, id)
	for agentType := range m.registrations {
		m.unregisterLocked(id, agentType)
	}
	return nil
}

// Close implements Coordinator.
func (m *Memory) Close() error {
	return nil
}
