// Package gateway is the routing core of actor-gateway.
//
// Workers connect over the GatewayControl/WorkerStream gRPC stream and
// exchange CBOR frames, each carrying a request, a response or an event.
//
// # Requests
//
// A request without a target is addressed to the gateway itself and names a
// self-service method: RegisterAgentType, AddSubscription,
// RemoveSubscription, ListSubscriptions, ReadAgentState or WriteAgentState.
//
// A request with a target is placed through the agent directory. If a local
// worker hosts (or can host) the agent, the request is sent to it under a
// fresh correlation id and the worker's response is relayed back under the
// caller's original id. If only another gateway can host it, the request is
// forwarded over the peer bus. Every request gets exactly one response; a
// failure carries a status code:
//
//	NotFound            no worker in the cluster supports the agent type
//	DeadlineExceeded    the worker did not answer within gateway.response_timeout
//	InvalidArgument     malformed frame, unknown method or bad payload
//	Unavailable         the worker, peer or coordinator went away
//	FailedPrecondition  state etag mismatch or type not permitted for the worker
//	Internal            anything else
//
// # Events
//
// Events are published to every connection hosting an agent type subscribed
// to the event's topic, and relayed to the other gateways.
//
// # Lifecycle
//
// Run serves until its context is cancelled. While running, the gateway
// announces itself to the cluster coordinator every
// gateway.announce_interval; Shutdown deregisters it.
package gateway
