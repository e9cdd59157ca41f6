// ABOUTME: Placement selection policies for choosing a worker among candidates.
// ABOUTME: Uniform random by default; round-robin and funcs for deterministic callers.

package agent

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"
)

// ErrNoCandidates indicates there is no connection to choose from.
var ErrNoCandidates = errors.New("no candidate connections")

// Selector picks one connection to host a new placement.
type Selector interface {
	Select(candidates []*Connection) (*Connection, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(candidates []*Connection) (*Connection, error)

// Select calls f.
func (f SelectorFunc) Select(candidates []*Connection) (*Connection, error) {
	return f(candidates)
}

// RandomSelector chooses uniformly at random.
type RandomSelector struct{}

// Select picks a random candidate.
func (RandomSelector) Select(candidates []*Connection) (*Connection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return candidates[rand.IntN(len(candidates))], nil
}

// RoundRobinSelector rotates through candidates.
type RoundRobinSelector struct {
	current atomic.Uint64
}

// Select picks the next candidate in rotation.
func (r *RoundRobinSelector) Select(candidates []*Connection) (*Connection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	idx := r.current.Add(1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

// FirstSelector always picks the first candidate (registration order).
var FirstSelector = SelectorFunc(func(candidates []*Connection) (*Connection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return candidates[0], nil
})
