// ABOUTME: Tracks every live worker connection and the agent types each one can host.
// ABOUTME: Removal closes the connection, prunes indexes, runs hooks and fails pending calls.

package agent

import (
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

var (
	// ErrConnectionAlreadyRegistered indicates a connection with the same ID is already live.
	ErrConnectionAlreadyRegistered = errors.New("connection already registered")

	// ErrConnectionNotFound indicates the connection is not (or no longer) registered.
	ErrConnectionNotFound = errors.New("connection not found")
)

// RemoveHook runs during Remove, after the connection is closed and unindexed and
// before its pending calls are failed.
type RemoveHook func(conn *Connection)

// ConnectionInfo is a snapshot of a connection for listings.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Principal   string    `json:"principal,omitempty"`
	AgentTypes  []string  `json:"agent_types"`
	Pending     int       `json:"pending"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry holds the live connections and the SupportedTypes index.
// The connection map and the type index are guarded separately.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	typesMu sync.RWMutex
	byType  map[string][]*Connection

	hooksMu sync.RWMutex
	hooks   []RemoveHook

	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		byType: make(map[string][]*Connection),
		logger: logger.With("component", "registry"),
	}
}

// OnRemove registers a hook run for every removed connection.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Add registers a new connection. Registering the same ID twice is an invariant
// violation and returns ErrConnectionAlreadyRegistered.
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		r.logger.Error("connection registered twice", "connection_id", conn.ID)
		return ErrConnectionAlreadyRegistered
	}
	if !conn.IsActive() {
		return ErrConnectionClosed
	}

	r.conns[conn.ID] = conn
	r.logger.Info("=== WORKER CONNECTED ===",
		"connection_id", conn.ID,
		"principal", conn.Principal,
		"total_connections", len(r.conns),
	)
	return nil
}

// Remove closes conn and cleans up everything that refers to it. It returns the
// agent types for which conn was the last supporting connection. Removing a
// connection twice is a no-op.
func (r *Registry) Remove(conn *Connection) (orphaned []string) {
	if !conn.markClosed() {
		return nil
	}

	r.mu.Lock()
	if cur, ok := r.conns[conn.ID]; ok && cur == conn {
		delete(r.conns, conn.ID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.typesMu.Lock()
	for _, t := range conn.SupportedTypes() {
		list := slices.DeleteFunc(r.byType[t], func(c *Connection) bool { return c == conn })
		if len(list) == 0 {
			delete(r.byType, t)
			orphaned = append(orphaned, t)
			continue
		}
		r.byType[t] = list
	}
	r.typesMu.Unlock()

	r.hooksMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(conn)
	}

	failed := conn.pending.FailAll(ErrConnectionLost)

	r.logger.Info("=== WORKER DISCONNECTED ===",
		"connection_id", conn.ID,
		"failed_calls", failed,
		"orphaned_types", orphaned,
		"total_connections", total,
	)
	return orphaned
}

// RecordSupportedType records that conn can host agentType. It returns true if
// conn is the first live connection supporting agentType.
func (r *Registry) RecordSupportedType(conn *Connection, agentType string) (first bool, err error) {
	r.typesMu.Lock()
	defer r.typesMu.Unlock()

	// Checked under typesMu so a concurrent Remove cannot leave conn indexed.
	if !conn.IsActive() {
		return false, ErrConnectionClosed
	}
	if !conn.addType(agentType) {
		return false, nil
	}
	first = len(r.byType[agentType]) == 0
	r.byType[agentType] = append(r.byType[agentType], conn)

	r.logger.Debug("agent type recorded",
		"connection_id", conn.ID,
		"agent_type", agentType,
		"supporters", len(r.byType[agentType]),
	)
	return first, nil
}

// ConnectionsSupporting returns the live connections supporting agentType in
// registration order. The returned slice is a copy.
func (r *Registry) ConnectionsSupporting(agentType string) []*Connection {
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()

	list := r.byType[agentType]
	out := make([]*Connection, 0, len(list))
	for _, c := range list {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// SupportedTypes returns every agent type with at least one live supporter.
func (r *Registry) SupportedTypes() []string {
	r.typesMu.RLock()
	defer r.typesMu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Get retrieves a connection by ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// List returns a snapshot of all live connections ordered by connect time.
func (r *Registry) List() []ConnectionInfo {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, ConnectionInfo{
			ID:          c.ID,
			Principal:   c.Principal,
			AgentTypes:  c.SupportedTypes(),
			Pending:     c.pending.Len(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	return infos
}

// PendingCalls returns the total number of pending calls across connections.
func (r *Registry) PendingCalls() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		n += c.pending.Len()
	}
	return n
}
