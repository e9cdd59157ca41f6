// ABOUTME: Per-connection table of forwarded requests awaiting a worker response.
// ABOUTME: Each call completes exactly once: response, timeout, cancellation or connection loss.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/actor-gateway/internal/wire"
)

// DefaultResponseTimeout bounds how long a forwarded call waits for its response.
const DefaultResponseTimeout = 30 * time.Second

var (
	// ErrCallTimeout indicates the worker did not answer before the deadline.
	ErrCallTimeout = errors.New("call timed out")

	// ErrConnectionLost fails calls owned by a connection that went away.
	ErrConnectionLost = errors.New("connection lost")

	// ErrDuplicateCorrelationID indicates a correlation id is already pending on this connection.
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")
)

type callResult struct {
	resp *wire.Response
	err  error
}

// Call is a single-assignment result slot for one forwarded request.
type Call struct {
	ID      string
	Started time.Time

	owner  *PendingCalls
	result chan callResult // capacity 1, written once by whoever removes the entry
	timer  *time.Timer
}

// Wait blocks until the call completes or ctx is done.
func (c *Call) Wait(ctx context.Context) (*wire.Response, error) {
	select {
	case r := <-c.result:
		return r.resp, r.err
	case <-ctx.Done():
		if c.owner.resolve(c.ID, c, callResult{err: ctx.Err()}) {
			return nil, ctx.Err()
		}
		// Lost the race to a completion already in flight.
		r := <-c.result
		return r.resp, r.err
	}
}

// PendingCalls correlates responses from one worker with the calls awaiting them.
type PendingCalls struct {
	mu     sync.Mutex
	calls  map[string]*Call
	closed error
	logger *slog.Logger
}

// NewPendingCalls creates an empty table.
func NewPendingCalls(logger *slog.Logger) *PendingCalls {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingCalls{
		calls:  make(map[string]*Call),
		logger: logger,
	}
}

// Begin registers a pending call. When timeout is positive the call fails with
// ErrCallTimeout after it elapses and its entry is removed.
func (p *PendingCalls) Begin(correlationID string, timeout time.Duration) (*Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return nil, p.closed
	}
	if _, exists := p.calls[correlationID]; exists {
		return nil, ErrDuplicateCorrelationID
	}

	call := &Call{
		ID:      correlationID,
		Started: time.Now(),
		owner:   p,
		result:  make(chan callResult, 1),
	}
	p.calls[correlationID] = call

	if timeout > 0 {
		call.timer = time.AfterFunc(timeout, func() {
			if p.resolve(correlationID, call, callResult{err: ErrCallTimeout}) {
				p.logger.Warn("call timed out", "request_id", correlationID, "timeout", timeout)
			}
		})
	}
	return call, nil
}

// Complete delivers resp to the call with the same correlation id.
// Returns false if no such call is pending; the response is logged and dropped.
func (p *PendingCalls) Complete(resp *wire.Response) bool {
	if p.resolve(resp.RequestID, nil, callResult{resp: resp}) {
		return true
	}
	p.logger.Warn("received response for unknown request", "request_id", resp.RequestID)
	return false
}

// Fail completes the call with err. Returns false if the call is no longer pending.
func (p *PendingCalls) Fail(correlationID string, err error) bool {
	return p.resolve(correlationID, nil, callResult{err: err})
}

// FailAll fails every pending call with err and refuses new calls afterwards.
// Returns the number of calls failed.
func (p *PendingCalls) FailAll(err error) int {
	p.mu.Lock()
	p.closed = err
	calls := p.calls
	p.calls = make(map[string]*Call)
	p.mu.Unlock()

	for _, call := range calls {
		call.finish(callResult{err: err})
	}
	return len(calls)
}

// Len returns the number of pending calls.
func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Has reports whether correlationID is pending.
func (p *PendingCalls) Has(correlationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.calls[correlationID]
	return ok
}

// resolve removes the entry and delivers r. Only the caller that removes the
// entry writes the result. When want is non-nil the entry must still be want.
func (p *PendingCalls) resolve(correlationID string, want *Call, r callResult) bool {
	p.mu.Lock()
	call, ok := p.calls[correlationID]
	if !ok || (want != nil && call != want) {
		p.mu.Unlock()
		return false
	}
	delete(p.calls, correlationID)
	p.mu.Unlock()

	call.finish(r)
	return true
}

func (c *Call) finish(r callResult) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.result <- r
}
