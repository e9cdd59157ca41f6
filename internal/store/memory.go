// ABOUTME: In-memory StateStore implementation
// ABOUTME: Used by tests and by gateways configured without a state path

package store

import (
	"context"
	"sync"
	"time"

	"github.com/2389/actor-gateway/internal/wire"
)

// MemoryStore is an in-memory StateStore.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[wire.AgentID]*AgentState
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[wire.AgentID]*AgentState),
	}
}

// ReadState retrieves agent state by identity.
func (m *MemoryStore) ReadState(ctx context.Context, id wire.AgentID) (*AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	out := *state
	out.Data = append([]byte(nil), state.Data...)
	return &out, nil
}

// WriteState saves agent state guarded by etag.
func (m *MemoryStore) WriteState(ctx context.Context, id wire.AgentID, data []byte, etag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.states[id]
	switch {
	case etag == "" && exists:
		return "", ErrETagMismatch
	case etag != "" && (!exists || cur.ETag != etag):
		return "", ErrETagMismatch
	}

	next := newETag()
	m.states[id] = &AgentState{
		Agent:     id,
		Data:      append([]byte(nil), data...),
		ETag:      next,
		UpdatedAt: time.Now().UTC(),
	}
	return next, nil
}

// DeleteState removes agent state.
func (m *MemoryStore) DeleteState(ctx context.Context, id wire.AgentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
