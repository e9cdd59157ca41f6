// ABOUTME: Local cache of topic subscriptions fed by subscribe and unsubscribe calls
// ABOUTME: Answers which agent types want a topic when the coordinator cannot be reached

package dispatch

import (
	"slices"
	"sort"
	"sync"

	"github.com/2389/actor-gateway/internal/wire"
)

// SubscriptionIndex maps topics to the agent types subscribed to them. It
// also keeps the registrations of locally hosted agent types so event types
// can be filtered without the coordinator.
type SubscriptionIndex struct {
	mu       sync.RWMutex
	byID     map[string]wire.Subscription
	exact    map[string]map[string]int // topic -> agent type -> subscription count
	prefixes map[string]wire.Subscription
	types    map[string]wire.TypeRegistration
}

// NewSubscriptionIndex creates an empty index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		byID:     make(map[string]wire.Subscription),
		exact:    make(map[string]map[string]int),
		prefixes: make(map[string]wire.Subscription),
		types:    make(map[string]wire.TypeRegistration),
	}
}

// RecordType remembers the registration of a locally hosted agent type,
// replacing an earlier one for the same type.
func (x *SubscriptionIndex) RecordType(reg wire.TypeRegistration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.types[reg.AgentType] = reg
}

// ForgetType drops the registration of agentType.
func (x *SubscriptionIndex) ForgetType(agentType string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.types, agentType)
}

// Add records sub, replacing any subscription with the same ID.
func (x *SubscriptionIndex) Add(sub wire.Subscription) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(sub.ID)
	x.byID[sub.ID] = sub
	if sub.TopicType != "" {
		types, ok := x.exact[sub.TopicType]
		if !ok {
			types = make(map[string]int)
			x.exact[sub.TopicType] = types
		}
		types[sub.AgentType]++
		return
	}
	x.prefixes[sub.ID] = sub
}

// Remove drops the subscription with id and returns it.
func (x *SubscriptionIndex) Remove(id string) (wire.Subscription, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(id)
}

func (x *SubscriptionIndex) removeLocked(id string) (wire.Subscription, bool) {
	sub, ok := x.byID[id]
	if !ok {
		return wire.Subscription{}, false
	}
	delete(x.byID, id)
	delete(x.prefixes, id)

	if types, ok := x.exact[sub.TopicType]; ok {
		types[sub.AgentType]--
		if types[sub.AgentType] <= 0 {
			delete(types, sub.AgentType)
		}
		if len(types) == 0 {
			delete(x.exact, sub.TopicType)
		}
	}
	return sub, true
}

// AgentTypes returns the de-duplicated agent types subscribed to topic.
func (x *SubscriptionIndex) AgentTypes(topic string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.agentTypesLocked(topic)
}

// Handlers returns the subscribed agent types for topic that are registered
// locally and handle eventType.
func (x *SubscriptionIndex) Handlers(topic, eventType string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return slices.DeleteFunc(x.agentTypesLocked(topic), func(t string) bool {
		reg, ok := x.types[t]
		return !ok || !reg.Handles(eventType)
	})
}

func (x *SubscriptionIndex) agentTypesLocked(topic string) []string {
	var out []string
	for t := range x.exact[topic] {
		out = append(out, t)
	}
	for _, sub := range x.prefixes {
		if sub.Matches(topic) && !slices.Contains(out, sub.AgentType) {
			out = append(out, sub.AgentType)
		}
	}
	sort.Strings(out)
	return out
}

// List returns the subscriptions for agentType, or all when it is empty.
func (x *SubscriptionIndex) List(agentType string) []wire.Subscription {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]wire.Subscription, 0, len(x.byID))
	for _, sub := range x.byID {
		if agentType == "" || sub.AgentType == agentType {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of subscriptions.
func (x *SubscriptionIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}
