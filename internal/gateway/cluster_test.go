// ABOUTME: Tests for routing across two gateways sharing a coordinator and a NATS bus
// ABOUTME: Covers forwarded requests, peer-unavailable failures and relayed events

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/peer"
	"github.com/2389/actor-gateway/internal/wire"
)

type pair struct {
	coord *cluster.Memory
	a, b  *harness
}

func startPair(t *testing.T) *pair {
	t.Helper()
	bus, err := peer.StartBus(peer.BusOptions{Port: peer.RandomPort})
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	coord := cluster.NewMemory(0)
	p := &pair{coord: coord}
	for _, id := range []string{"gw-a", "gw-b"} {
		pc, err := peer.Connect(bus.ClientURL(), id, testLogger())
		require.NoError(t, err)
		h := startGateway(t, testConfig(id), coord, pc)
		require.True(t, h.gw.announce(context.Background()))
		if id == "gw-a" {
			p.a = h
		} else {
			p.b = h
		}
	}
	return p
}

func TestForwardToPeerGateway(t *testing.T) {
	p := startPair(t)

	worker := p.b.connect(t)
	worker.register("echo")
	worker.serve(echo)

	caller := p.a.connect(t)
	// Serving starts asynchronously; retry until gw-b answers on the bus.
	var resp *wire.Response
	require.Eventually(t, func() bool {
		resp = caller.call(targeted(wire.NewRequestID(), "echo", "k1", "over"))
		return !resp.Failed()
	}, waitFor, 20*time.Millisecond)

	assert.Equal(t, []byte("echo:over"), resp.Payload.Data)

	resp = caller.call(targeted("same-agent", "echo", "k1", "again"))
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "same-agent", resp.RequestID)
	assert.Equal(t, 0, p.a.gw.directory.Len(), "remote agents are not cached as local placements")
}

func TestPeerWithoutWorker(t *testing.T) {
	p := startPair(t)

	// gw-b claims the type in the coordinator but has no worker for it.
	require.NoError(t, p.coord.RegisterAgentType(context.Background(), "gw-b", wire.TypeRegistration{AgentType: "ghost"}))

	caller := p.a.connect(t)
	require.Eventually(t, func() bool {
		resp := caller.call(targeted(wire.NewRequestID(), "ghost", "k", ""))
		return resp.Status == wire.CodeNotFound
	}, waitFor, 20*time.Millisecond)
}

func TestPeerUnavailable(t *testing.T) {
	p := startPair(t)

	// A live gateway in the coordinator that nobody serves on the bus.
	ctx := context.Background()
	require.NoError(t, p.coord.AddGateway(ctx, cluster.GatewayRef{ID: "gw-gone"}))
	require.NoError(t, p.coord.RegisterAgentType(ctx, "gw-gone", wire.TypeRegistration{AgentType: "lost"}))

	caller := p.a.connect(t)
	resp := caller.call(targeted("r1", "lost", "k", ""))
	assert.Equal(t, wire.CodeUnavailable, resp.Status)
}

func TestEventsRelayedAcrossGateways(t *testing.T) {
	p := startPair(t)

	listener := p.b.connect(t)
	listener.register("listener")
	listener.subscribe("listener", "orders")

	publisher := p.a.connect(t)
	require.Eventually(t, func() bool {
		publisher.send(wire.EventFrame(&wire.Event{ID: wire.NewRequestID(), Topic: "orders", Type: "created"}))
		select {
		case ev := <-listener.events:
			return ev.Topic == "orders"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, waitFor, 10*time.Millisecond)
}
