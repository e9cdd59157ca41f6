// ABOUTME: Maps routing errors onto the status codes carried by failure responses
// ABOUTME: Every per-request failure becomes exactly one correlated wire.Response

package gateway

import (
	"context"
	"errors"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/directory"
	"github.com/2389/actor-gateway/internal/metrics"
	"github.com/2389/actor-gateway/internal/peer"
	"github.com/2389/actor-gateway/internal/store"
	"github.com/2389/actor-gateway/internal/wire"
)

var (
	// ErrUnknownMethod indicates an untargeted request named no self-service method.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrMalformedFrame indicates a frame carrying zero or several bodies.
	ErrMalformedFrame = errors.New("frame must carry exactly one of request, response or event")

	// ErrMissingRequestID indicates a request without a correlation id.
	ErrMissingRequestID = errors.New("request_id is required")

	// ErrBadPayload indicates a self-service body that could not be decoded or is incomplete.
	ErrBadPayload = errors.New("bad payload")

	// ErrTypeNotPermitted indicates the worker's credentials do not allow hosting a type.
	ErrTypeNotPermitted = errors.New("agent type not permitted for this worker")

	// ErrNoPeerBus indicates a remote placement on a gateway without a peer connection.
	ErrNoPeerBus = errors.New("no peer bus configured")

	// ErrCoordinator indicates the cluster coordinator could not be reached.
	ErrCoordinator = errors.New("coordinator unavailable")

	// ErrShuttingDown indicates the gateway stopped accepting work.
	ErrShuttingDown = errors.New("gateway shutting down")
)

// codeFor classifies err into the status code reported to the caller.
func codeFor(err error) wire.Code {
	switch {
	case err == nil:
		return wire.CodeOK
	case errors.Is(err, directory.ErrAgentNotFound),
		errors.Is(err, cluster.ErrSubscriptionNotFound),
		errors.Is(err, store.ErrNotFound):
		return wire.CodeNotFound
	case errors.Is(err, agent.ErrCallTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return wire.CodeDeadlineExceeded
	case errors.Is(err, directory.ErrInvalidAgentID),
		errors.Is(err, wire.ErrDataType),
		errors.Is(err, ErrUnknownMethod),
		errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrMissingRequestID),
		errors.Is(err, ErrBadPayload):
		return wire.CodeInvalidArgument
	case errors.Is(err, store.ErrETagMismatch),
		errors.Is(err, ErrTypeNotPermitted):
		return wire.CodeFailedPrecondition
	case errors.Is(err, agent.ErrConnectionLost),
		errors.Is(err, agent.ErrConnectionClosed),
		errors.Is(err, peer.ErrPeerUnavailable),
		errors.Is(err, ErrNoPeerBus),
		errors.Is(err, ErrCoordinator),
		errors.Is(err, directory.ErrLookupFailed),
		errors.Is(err, ErrShuttingDown),
		errors.Is(err, context.Canceled):
		return wire.CodeUnavailable
	default:
		return wire.CodeInternal
	}
}

// failureFor builds the failure response for requestID.
func failureFor(requestID string, err error) *wire.Response {
	return wire.Failure(requestID, codeFor(err), "%s", err.Error())
}

// outcomeFor labels a forwarded call for metrics.
func outcomeFor(resp *wire.Response, err error) string {
	code := codeFor(err)
	if err == nil && resp != nil && resp.Failed() {
		return metrics.OutcomeFailed
	}
	switch code {
	case wire.CodeOK:
		return metrics.OutcomeOK
	case wire.CodeNotFound:
		return metrics.OutcomeNotFound
	case wire.CodeDeadlineExceeded:
		return metrics.OutcomeTimeout
	case wire.CodeUnavailable:
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeFailed
	}
}
