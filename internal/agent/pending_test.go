// ABOUTME: Tests for the pending-call table.
// ABOUTME: Every call must terminate exactly once and unmatched responses must be harmless.

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/wire"
)

func TestPendingCalls_Complete(t *testing.T) {
	p := NewPendingCalls(testLogger())

	call, err := p.Begin("r1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Complete(wire.OK("r1", wire.Payload{Data: []byte("P")})))
	assert.Equal(t, 0, p.Len())

	resp, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("P"), resp.Payload.Data)
}

func TestPendingCalls_DuplicateID(t *testing.T) {
	p := NewPendingCalls(testLogger())

	_, err := p.Begin("r1", time.Second)
	require.NoError(t, err)

	_, err = p.Begin("r1", time.Second)
	assert.ErrorIs(t, err, ErrDuplicateCorrelationID)
}

func TestPendingCalls_UnmatchedResponse(t *testing.T) {
	p := NewPendingCalls(testLogger())
	_, err := p.Begin("r1", time.Second)
	require.NoError(t, err)

	assert.False(t, p.Complete(wire.OK("never-issued", wire.Payload{})))
	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Has("r1"))

	require.True(t, p.Complete(wire.OK("r1", wire.Payload{})))
	// A duplicate of an already completed response is dropped.
	assert.False(t, p.Complete(wire.OK("r1", wire.Payload{})))
	assert.Equal(t, 0, p.Len())
}

func TestPendingCalls_Timeout(t *testing.T) {
	p := NewPendingCalls(testLogger())

	call, err := p.Begin("r1", 20*time.Millisecond)
	require.NoError(t, err)

	_, err = call.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCallTimeout)
	assert.Equal(t, 0, p.Len())

	// The late response no longer matches.
	assert.False(t, p.Complete(wire.OK("r1", wire.Payload{})))
}

func TestPendingCalls_FailAll(t *testing.T) {
	p := NewPendingCalls(testLogger())

	calls := make([]*Call, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		c, err := p.Begin(id, time.Minute)
		require.NoError(t, err)
		calls = append(calls, c)
	}

	assert.Equal(t, 3, p.FailAll(ErrConnectionLost))
	for _, c := range calls {
		_, err := c.Wait(context.Background())
		assert.ErrorIs(t, err, ErrConnectionLost)
	}

	_, err := p.Begin("d", time.Minute)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestPendingCalls_ContextCancelled(t *testing.T) {
	p := NewPendingCalls(testLogger())
	call, err := p.Begin("r1", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = call.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Len())
}

func TestPendingCalls_ExactlyOnceUnderRace(t *testing.T) {
	p := NewPendingCalls(testLogger())

	for i := range 200 {
		id := wire.NewRequestID()
		call, err := p.Begin(id, time.Millisecond)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if p.Complete(wire.OK(id, wire.Payload{})) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if i%2 == 0 && p.Fail(id, errors.New("lost")) {
				wins.Add(1)
			}
		}()
		wg.Wait()

		_, _ = call.Wait(context.Background())
		assert.LessOrEqual(t, wins.Load(), int32(1))
	}

	assert.Equal(t, 0, p.Len())
}
