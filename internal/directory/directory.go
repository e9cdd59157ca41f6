// ABOUTME: Agent directory mapping agent identities to the worker connection hosting them.
// ABOUTME: Places agents on first use and falls back to the cluster for remote placement.

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/wire"
)

var (
	// ErrAgentNotFound indicates no worker anywhere in the cluster supports the agent's type.
	ErrAgentNotFound = cluster.ErrAgentNotFound

	// ErrInvalidAgentID indicates an identity with an empty type or key.
	ErrInvalidAgentID = errors.New("invalid agent id")

	// ErrLookupFailed indicates the coordinator could not answer a remote lookup.
	ErrLookupFailed = errors.New("cluster lookup failed")
)

// Placement is the result of resolving an agent identity. Exactly one of
// Local or Remote is set.
type Placement struct {
	Local  *agent.Connection
	Remote *cluster.GatewayRef
	// Fresh is true when this resolution created the placement.
	Fresh bool
}

// IsLocal reports whether the agent is hosted by a worker on this gateway.
func (p Placement) IsLocal() bool {
	return p.Local != nil
}

// Params configures a Directory.
type Params struct {
	GatewayID   string
	Registry    *agent.Registry
	Coordinator cluster.Coordinator
	Selector    agent.Selector // defaults to agent.RandomSelector
	Logger      *slog.Logger
}

// Directory is the placement cache. At most one placement exists per identity.
type Directory struct {
	gatewayID  string
	registry   *agent.Registry
	coord      cluster.Coordinator
	selector   agent.Selector
	placements sync.Map // wire.AgentID -> *agent.Connection
	logger     *slog.Logger
}

// New creates a Directory and hooks it into the registry so placements on a
// removed connection are dropped.
func New(p Params) *Directory {
	if p.Selector == nil {
		p.Selector = agent.RandomSelector{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	d := &Directory{
		gatewayID: p.GatewayID,
		registry:  p.Registry,
		coord:     p.Coordinator,
		selector:  p.Selector,
		logger:    p.Logger.With("component", "directory"),
	}
	p.Registry.OnRemove(d.InvalidateConnection)
	return d
}

// Resolve returns the placement for id, creating it if needed. When no local
// worker supports the agent's type the coordinator is asked for a remote gateway.
func (d *Directory) Resolve(ctx context.Context, id wire.AgentID) (Placement, error) {
	p, err := d.ResolveLocal(id)
	if !errors.Is(err, ErrAgentNotFound) {
		return p, err
	}
	if d.coord == nil {
		return Placement{}, err
	}

	ref, fresh, err := d.coord.LookupAgent(ctx, d.gatewayID, id)
	if errors.Is(err, cluster.ErrAgentNotFound) {
		return Placement{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if err != nil {
		return Placement{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	d.logger.Debug("agent placed on remote gateway", "agent", id.String(), "gateway", ref.ID, "fresh", fresh)
	return Placement{Remote: &ref, Fresh: fresh}, nil
}

// ResolveLocal resolves id against local workers only.
func (d *Directory) ResolveLocal(id wire.AgentID) (Placement, error) {
	if !id.Valid() {
		return Placement{}, fmt.Errorf("%w: %q", ErrInvalidAgentID, id.String())
	}

	for {
		if v, ok := d.placements.Load(id); ok {
			conn := v.(*agent.Connection)
			if conn.IsActive() {
				return Placement{Local: conn}, nil
			}
			d.placements.CompareAndDelete(id, conn)
		}

		candidates := d.registry.ConnectionsSupporting(id.Type)
		if len(candidates) == 0 {
			return Placement{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}

		chosen, err := d.selector.Select(candidates)
		if err != nil {
			return Placement{}, fmt.Errorf("selecting worker: %w", err)
		}

		actual, loaded := d.placements.LoadOrStore(id, chosen)
		conn := actual.(*agent.Connection)
		if !conn.IsActive() {
			// Closed between selection and store; the removal hook may have
			// already run, so clean up here and try again.
			d.placements.CompareAndDelete(id, conn)
			continue
		}

		if !loaded {
			d.logger.Debug("agent placed", "agent", id.String(), "connection_id", conn.ID)
		}
		return Placement{Local: conn, Fresh: !loaded}, nil
	}
}

// Lookup returns the current local placement for id without creating one.
func (d *Directory) Lookup(id wire.AgentID) (*agent.Connection, bool) {
	v, ok := d.placements.Load(id)
	if !ok {
		return nil, false
	}
	conn := v.(*agent.Connection)
	return conn, conn.IsActive()
}

// InvalidateConnection drops every placement hosted on conn.
func (d *Directory) InvalidateConnection(conn *agent.Connection) {
	dropped := 0
	d.placements.Range(func(k, v any) bool {
		if v.(*agent.Connection) == conn && d.placements.CompareAndDelete(k, v) {
			dropped++
		}
		return true
	})
	if dropped > 0 {
		d.logger.Info("placements invalidated", "connection_id", conn.ID, "count", dropped)
	}
}

// Len returns the number of local placements.
func (d *Directory) Len() int {
	n := 0
	d.placements.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
