// ABOUTME: StateStore interface and data types for agent state persistence
// ABOUTME: Writes are guarded by an opaque etag for optimistic concurrency

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/2389/actor-gateway/internal/wire"
)

// ErrNotFound is returned when an agent has no saved state
var ErrNotFound = errors.New("not found")

// ErrETagMismatch is returned when a write carries a stale or unexpected etag
var ErrETagMismatch = errors.New("etag mismatch")

// AgentState is the serialized state of one agent plus its concurrency token
type AgentState struct {
	Agent     wire.AgentID
	Data      []byte
	ETag      string
	UpdatedAt time.Time
}

// StateStore persists agent state keyed by agent identity.
//
// WriteState with an empty etag only creates; with a non-empty etag it only
// replaces state whose current etag matches. Both return the new etag.
type StateStore interface {
	ReadState(ctx context.Context, id wire.AgentID) (*AgentState, error)
	WriteState(ctx context.Context, id wire.AgentID, data []byte, etag string) (string, error)
	DeleteState(ctx context.Context, id wire.AgentID) error
	Close() error
}

func newETag() string {
	return uuid.New().String()
}
