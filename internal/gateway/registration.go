// ABOUTME: Self-service methods workers call on the gateway with untargeted requests
// ABOUTME: Registers agent types, manages subscriptions and proxies agent state

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/auth"
	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/wire"
)

// serveSelf answers an untargeted request. It always returns exactly one
// response correlated to req.
func (g *Gateway) serveSelf(ctx context.Context, conn *agent.Connection, principal *auth.Principal, req *wire.Request) *wire.Response {
	var (
		payload wire.Payload
		err     error
	)

	switch req.Method {
	case wire.MethodRegisterAgentType:
		err = g.registerAgentTypes(ctx, conn, principal, req.Payload)
	case wire.MethodAddSubscription:
		payload, err = g.addSubscription(ctx, req.Payload)
	case wire.MethodRemoveSubscription:
		err = g.removeSubscription(ctx, req.Payload)
	case wire.MethodListSubscriptions:
		payload, err = g.listSubscriptions(ctx, req.Payload)
	case wire.MethodReadAgentState:
		payload, err = g.readAgentState(ctx, req.Payload)
	case wire.MethodWriteAgentState:
		payload, err = g.writeAgentState(ctx, req.Payload)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}

	if err != nil {
		g.logger.Debug("self-service request failed",
			"connection_id", conn.ID,
			"request_id", req.RequestID,
			"method", req.Method,
			"error", err,
		)
		return failureFor(req.RequestID, err)
	}
	return wire.OK(req.RequestID, payload)
}

func decodeBody(p wire.Payload, name string, v any) error {
	if err := wire.DecodePayload(p, name, v); err != nil {
		if errors.Is(err, wire.ErrDataType) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// registerAgentTypes records the types against conn and announces them to
// the coordinator.
func (g *Gateway) registerAgentTypes(ctx context.Context, conn *agent.Connection, principal *auth.Principal, p wire.Payload) error {
	var body wire.RegisterAgentTypeRequest
	if err := decodeBody(p, wire.TypeRegisterAgentTypeRequest, &body); err != nil {
		return err
	}
	if len(body.Types) == 0 {
		return fmt.Errorf("%w: no agent types", ErrBadPayload)
	}
	for _, reg := range body.Types {
		if reg.AgentType == "" {
			return fmt.Errorf("%w: empty agent type", ErrBadPayload)
		}
		if !principal.MayHost(reg.AgentType) {
			return fmt.Errorf("%w: %s", ErrTypeNotPermitted, reg.AgentType)
		}
	}

	for _, reg := range body.Types {
		first, err := g.registry.RecordSupportedType(conn, reg.AgentType)
		if err != nil {
			return err
		}
		g.registrations.Store(reg.AgentType, reg)
		g.dispatcher.Index().RecordType(reg)

		if err := g.coord.RegisterAgentType(ctx, g.id, reg); err != nil {
			// Restored by the liveness loop once the coordinator answers again.
			g.reregisterPending.Store(true)
			return fmt.Errorf("%w: registering %s with coordinator: %v", ErrCoordinator, reg.AgentType, err)
		}

		g.logger.Info("agent type registered",
			"connection_id", conn.ID,
			"agent_type", reg.AgentType,
			"event_types", reg.EventTypes,
			"first_on_gateway", first,
		)
	}
	return nil
}

func (g *Gateway) addSubscription(ctx context.Context, p wire.Payload) (wire.Payload, error) {
	var sub wire.Subscription
	if err := decodeBody(p, wire.TypeSubscription, &sub); err != nil {
		return wire.Payload{}, err
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if err := sub.Validate(); err != nil {
		return wire.Payload{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if err := g.coord.AddSubscription(ctx, sub); err != nil {
		return wire.Payload{}, fmt.Errorf("%w: adding subscription: %v", ErrCoordinator, err)
	}
	g.dispatcher.Index().Add(sub)

	g.logger.Info("subscription added",
		"subscription_id", sub.ID,
		"agent_type", sub.AgentType,
		"topic_type", sub.TopicType,
		"topic_prefix", sub.TopicPrefix,
	)
	return wire.EncodePayload(wire.TypeSubscription, sub)
}

func (g *Gateway) removeSubscription(ctx context.Context, p wire.Payload) error {
	var body wire.RemoveSubscriptionRequest
	if err := decodeBody(p, wire.TypeRemoveSubscription, &body); err != nil {
		return err
	}
	if body.ID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrBadPayload)
	}

	_, local := g.dispatcher.Index().Remove(body.ID)
	err := g.coord.RemoveSubscription(ctx, body.ID)
	switch {
	case errors.Is(err, cluster.ErrSubscriptionNotFound) && local:
	case err != nil && errors.Is(err, cluster.ErrSubscriptionNotFound):
		return fmt.Errorf("%w: %s", err, body.ID)
	case err != nil:
		return fmt.Errorf("%w: removing subscription: %v", ErrCoordinator, err)
	}

	g.logger.Info("subscription removed", "subscription_id", body.ID)
	return nil
}

func (g *Gateway) listSubscriptions(ctx context.Context, p wire.Payload) (wire.Payload, error) {
	var body wire.ListSubscriptionsRequest
	if p.DataType != "" {
		if err := decodeBody(p, wire.TypeListSubscriptions, &body); err != nil {
			return wire.Payload{}, err
		}
	}

	subs, err := g.coord.ListSubscriptions(ctx, body.AgentType)
	if err != nil {
		g.logger.Warn("coordinator unavailable, listing local subscriptions", "error", err)
		subs = g.dispatcher.Index().List(body.AgentType)
	}
	return wire.EncodePayload(wire.TypeListSubscriptionsResult, wire.ListSubscriptionsResponse{Subscriptions: subs})
}

func (g *Gateway) readAgentState(ctx context.Context, p wire.Payload) (wire.Payload, error) {
	var body wire.ReadStateRequest
	if err := decodeBody(p, wire.TypeReadStateRequest, &body); err != nil {
		return wire.Payload{}, err
	}
	if !body.Agent.Valid() {
		return wire.Payload{}, fmt.Errorf("%w: agent %q", ErrBadPayload, body.Agent.String())
	}

	st, err := g.state.ReadState(ctx, body.Agent)
	if err != nil {
		return wire.Payload{}, fmt.Errorf("reading state of %s: %w", body.Agent, err)
	}
	return wire.EncodePayload(wire.TypeAgentState, wire.AgentState{Data: st.Data, ETag: st.ETag})
}

func (g *Gateway) writeAgentState(ctx context.Context, p wire.Payload) (wire.Payload, error) {
	var body wire.WriteStateRequest
	if err := decodeBody(p, wire.TypeWriteStateRequest, &body); err != nil {
		return wire.Payload{}, err
	}
	if !body.Agent.Valid() {
		return wire.Payload{}, fmt.Errorf("%w: agent %q", ErrBadPayload, body.Agent.String())
	}

	etag, err := g.state.WriteState(ctx, body.Agent, body.Data, body.ETag)
	if err != nil {
		return wire.Payload{}, fmt.Errorf("writing state of %s: %w", body.Agent, err)
	}
	return wire.EncodePayload(wire.TypeWriteStateResult, wire.WriteStateResponse{ETag: etag})
}
