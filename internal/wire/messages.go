// ABOUTME: Self-service method names and their payload bodies
// ABOUTME: Untargeted requests use these to register types, manage subscriptions and agent state

package wire

import (
	"errors"
	"slices"
	"strings"
)

// ErrDataType indicates a payload did not declare the expected data type.
var ErrDataType = errors.New("unexpected payload data type")

// Self-service methods handled by the gateway itself (requests without a target).
const (
	MethodRegisterAgentType  = "RegisterAgentType"
	MethodAddSubscription    = "AddSubscription"
	MethodRemoveSubscription = "RemoveSubscription"
	MethodListSubscriptions  = "ListSubscriptions"
	MethodReadAgentState     = "ReadAgentState"
	MethodWriteAgentState    = "WriteAgentState"
)

// Payload names used with EncodePayload/DecodePayload.
const (
	TypeRegisterAgentTypeRequest = "RegisterAgentTypeRequest"
	TypeSubscription             = "Subscription"
	TypeRemoveSubscription       = "RemoveSubscriptionRequest"
	TypeListSubscriptions        = "ListSubscriptionsRequest"
	TypeListSubscriptionsResult  = "ListSubscriptionsResponse"
	TypeReadStateRequest         = "ReadStateRequest"
	TypeWriteStateRequest        = "WriteStateRequest"
	TypeAgentState               = "AgentState"
	TypeWriteStateResult         = "WriteStateResponse"
)

// TypeRegistration announces an agent type a worker can host.
// EventTypes lists the event types the agent type handles; empty means all.
type TypeRegistration struct {
	AgentType  string   `cbor:"agent_type"`
	EventTypes []string `cbor:"event_types,omitempty"`
}

// Handles reports whether the registration accepts events of eventType.
func (r TypeRegistration) Handles(eventType string) bool {
	return len(r.EventTypes) == 0 || slices.Contains(r.EventTypes, eventType)
}

// RegisterAgentTypeRequest is the body of MethodRegisterAgentType.
type RegisterAgentTypeRequest struct {
	Types []TypeRegistration `cbor:"types"`
}

// Subscription routes events on matching topics to AgentType.
// Exactly one of TopicType (exact match) or TopicPrefix (prefix match) is set.
type Subscription struct {
	ID          string `cbor:"id"`
	AgentType   string `cbor:"agent_type"`
	TopicType   string `cbor:"topic_type,omitempty"`
	TopicPrefix string `cbor:"topic_prefix,omitempty"`
}

// Matches reports whether the subscription covers topic.
func (s Subscription) Matches(topic string) bool {
	if s.TopicType != "" {
		return s.TopicType == topic
	}
	return s.TopicPrefix != "" && strings.HasPrefix(topic, s.TopicPrefix)
}

// Validate checks that the subscription is well formed.
func (s Subscription) Validate() error {
	if s.AgentType == "" {
		return errors.New("subscription agent_type is required")
	}
	if (s.TopicType == "") == (s.TopicPrefix == "") {
		return errors.New("subscription needs exactly one of topic_type or topic_prefix")
	}
	return nil
}

// RemoveSubscriptionRequest is the body of MethodRemoveSubscription.
type RemoveSubscriptionRequest struct {
	ID string `cbor:"id"`
}

// ListSubscriptionsRequest is the body of MethodListSubscriptions. Empty AgentType lists all.
type ListSubscriptionsRequest struct {
	AgentType string `cbor:"agent_type,omitempty"`
}

// ListSubscriptionsResponse answers MethodListSubscriptions.
type ListSubscriptionsResponse struct {
	Subscriptions []Subscription `cbor:"subscriptions"`
}

// ReadStateRequest is the body of MethodReadAgentState.
type ReadStateRequest struct {
	Agent AgentID `cbor:"agent"`
}

// WriteStateRequest is the body of MethodWriteAgentState.
// ETag must match the stored token; empty ETag creates new state only.
type WriteStateRequest struct {
	Agent AgentID `cbor:"agent"`
	Data  []byte  `cbor:"data"`
	ETag  string  `cbor:"etag,omitempty"`
}

// AgentState answers MethodReadAgentState.
type AgentState struct {
	Data []byte `cbor:"data"`
	ETag string `cbor:"etag"`
}

// WriteStateResponse answers MethodWriteAgentState.
type WriteStateResponse struct {
	ETag string `cbor:"etag"`
}
