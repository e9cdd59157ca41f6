// ABOUTME: Represents a single connected worker and its outbound frame stream.
// ABOUTME: Serializes writes, tracks supported agent types and owns the worker's pending calls.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/actor-gateway/internal/wire"
)

// ErrConnectionClosed indicates the connection has been removed from the registry.
var ErrConnectionClosed = errors.New("connection closed")

// FrameSender is the send half of a worker stream.
type FrameSender interface {
	Send(*wire.Frame) error
}

// State is the liveness state of a connection.
type State int32

const (
	StateActive State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "closed"
}

// Connection represents a connected worker with its gRPC stream.
type Connection struct {
	ID          string
	Principal   string
	ConnectedAt time.Time

	stream  FrameSender
	sendMu  sync.Mutex
	state   atomic.Int32
	types   map[string]struct{}
	typesMu sync.RWMutex
	pending *PendingCalls
	logger  *slog.Logger
}

// ConnectionParams holds the parameters for creating a new Connection.
type ConnectionParams struct {
	ID        string // generated when empty
	Principal string
	Stream    FrameSender
	Logger    *slog.Logger
}

// NewConnection creates a new active Connection for a connected worker.
func NewConnection(params ConnectionParams) *Connection {
	id := params.ID
	if id == "" {
		id = uuid.New().String()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("connection_id", id)

	return &Connection{
		ID:          id,
		Principal:   params.Principal,
		ConnectedAt: time.Now(),
		stream:      params.Stream,
		types:       make(map[string]struct{}),
		pending:     NewPendingCalls(logger),
		logger:      logger,
	}
}

// Send transmits a frame to the worker. Writes on one connection never interleave.
func (c *Connection) Send(frame *wire.Frame) error {
	if !c.IsActive() {
		return ErrConnectionClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(frame)
}

// State returns the connection's liveness state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsActive reports whether the connection has not been removed.
func (c *Connection) IsActive() bool {
	return c.State() == StateActive
}

// markClosed transitions to StateClosed. Returns false if it was already closed.
func (c *Connection) markClosed() bool {
	return c.state.CompareAndSwap(int32(StateActive), int32(StateClosed))
}

// Supports reports whether the worker registered agentType.
func (c *Connection) Supports(agentType string) bool {
	c.typesMu.RLock()
	defer c.typesMu.RUnlock()
	_, ok := c.types[agentType]
	return ok
}

// SupportedTypes returns the registered agent types in sorted order.
func (c *Connection) SupportedTypes() []string {
	c.typesMu.RLock()
	defer c.typesMu.RUnlock()
	types := make([]string, 0, len(c.types))
	for t := range c.types {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// addType records agentType. Returns false if it was already present.
func (c *Connection) addType(agentType string) bool {
	c.typesMu.Lock()
	defer c.typesMu.Unlock()
	if _, ok := c.types[agentType]; ok {
		return false
	}
	c.types[agentType] = struct{}{}
	return true
}

// Pending returns the connection's pending-call table.
func (c *Connection) Pending() *PendingCalls {
	return c.pending
}

// Call forwards req to the worker under a fresh correlation id and waits for the
// matching response, the timeout, ctx cancellation or connection loss.
// The returned response carries the internal id; callers re-correlate it.
func (c *Connection) Call(ctx context.Context, req *wire.Request, timeout time.Duration) (*wire.Response, error) {
	hop := *req
	hop.RequestID = wire.NewRequestID()

	call, err := c.pending.Begin(hop.RequestID, timeout)
	if err != nil {
		return nil, err
	}

	if err := c.Send(wire.RequestFrame(&hop)); err != nil {
		c.pending.Fail(hop.RequestID, fmt.Errorf("sending to worker: %w", err))
		return call.Wait(ctx)
	}

	c.logger.Debug("request forwarded to worker",
		"request_id", req.RequestID,
		"hop_id", hop.RequestID,
		"target", hop.Target,
		"method", hop.Method,
	)

	return call.Wait(ctx)
}
