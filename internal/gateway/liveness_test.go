// ABOUTME: Tests for gateway announcements, re-registration and deregistration
// ABOUTME: Uses a coordinator whose announcements can be made to fail

package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/store"
	"github.com/2389/actor-gateway/internal/wire"
)

type flakyCoordinator struct {
	*cluster.Memory
	failAnnounce atomic.Bool
	failRegister atomic.Bool
	announces    atomic.Int32
	registers    atomic.Int32
}

func (f *flakyCoordinator) AddGateway(ctx context.Context, ref cluster.GatewayRef) error {
	f.announces.Add(1)
	if f.failAnnounce.Load() {
		return errors.New("coordinator unreachable")
	}
	return f.Memory.AddGateway(ctx, ref)
}

func (f *flakyCoordinator) RegisterAgentType(ctx context.Context, gatewayID string, reg wire.TypeRegistration) error {
	f.registers.Add(1)
	if f.failRegister.Load() {
		return errors.New("coordinator unreachable")
	}
	return f.Memory.RegisterAgentType(ctx, gatewayID, reg)
}

func newBareGateway(t *testing.T, coord cluster.Coordinator) *Gateway {
	t.Helper()
	cfg := testConfig("gw-live")
	cfg.Gateway.AnnounceInterval = 10 * time.Millisecond
	g := assemble(cfg, deps{coord: coord, state: store.NewMemoryStore()}, testLogger())
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

func TestLiveness_ReregistersAfterOutage(t *testing.T) {
	coord := &flakyCoordinator{Memory: cluster.NewMemory(0)}
	coord.failAnnounce.Store(true)
	g := newBareGateway(t, coord)
	g.registrations.Store("echo", wire.TypeRegistration{AgentType: "echo"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.runLiveness(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return coord.announces.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), coord.registers.Load())

	coord.failAnnounce.Store(false)
	require.Eventually(t, func() bool { return coord.registers.Load() == 1 }, time.Second, 5*time.Millisecond)

	ref, _, err := coord.LookupAgent(context.Background(), "someone-else", wire.AgentID{Type: "echo", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gw-live", ref.ID)

	// Healthy ticks do not re-register again.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), coord.registers.Load())
}

func TestLiveness_RestoresRegistrationRejectedByCoordinator(t *testing.T) {
	coord := &flakyCoordinator{Memory: cluster.NewMemory(0)}
	coord.failRegister.Store(true)

	cfg := testConfig("gw-live")
	cfg.Gateway.AnnounceInterval = 10 * time.Millisecond
	h := startGateway(t, cfg, coord, nil)
	w := h.connect(t)

	resp := w.self(wire.MethodRegisterAgentType, wire.TypeRegisterAgentTypeRequest, wire.RegisterAgentTypeRequest{
		Types: []wire.TypeRegistration{{AgentType: "echo", EventTypes: []string{"created"}}},
	})
	assert.Equal(t, wire.CodeUnavailable, resp.Status)

	_, ok := h.gw.registrations.Load("echo")
	assert.True(t, ok, "registration is kept for the liveness loop")
	assert.Equal(t, []string{"echo"}, h.gw.registry.SupportedTypes())

	coord.failRegister.Store(false)
	require.Eventually(t, func() bool {
		ref, _, err := coord.LookupAgent(context.Background(), "gw-other", wire.AgentID{Type: "echo", Key: "k"})
		return err == nil && ref.ID == "gw-live"
	}, waitFor, 10*time.Millisecond)
}

func TestShutdownDeregisters(t *testing.T) {
	coord := cluster.NewMemory(0)
	g := newBareGateway(t, coord)
	ctx := context.Background()

	require.True(t, g.announce(ctx))
	require.NoError(t, coord.RegisterAgentType(ctx, g.ID(), wire.TypeRegistration{AgentType: "echo"}))

	_, _, err := coord.LookupAgent(ctx, "other", wire.AgentID{Type: "echo", Key: "k"})
	require.NoError(t, err)

	require.NoError(t, g.Shutdown(ctx))
	require.NoError(t, g.Shutdown(ctx), "second shutdown is a no-op")

	_, _, err = coord.LookupAgent(ctx, "other", wire.AgentID{Type: "echo", Key: "k"})
	assert.ErrorIs(t, err, cluster.ErrAgentNotFound)
}
