// ABOUTME: Tests for gateway-to-gateway forwarding over an embedded NATS server.
// ABOUTME: Covers request/reply, missing peers, deadlines and event relay.

package peer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := StartBus(BusOptions{Port: RandomPort})
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return bus
}

func connect(t *testing.T, bus *Bus, name string) *Client {
	t.Helper()
	c, err := Connect(bus.ClientURL(), name, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "gateway.gw-1.invoke", SubjectInvoke("gw-1"))
}

func TestForward_RoundTrip(t *testing.T) {
	bus := startBus(t)
	server := connect(t, bus, "gw-b")
	client := connect(t, bus, "gw-a")

	var got *wire.Request
	err := server.Serve(context.Background(), "gw-b", HandlerFunc(func(ctx context.Context, req *wire.Request) *wire.Response {
		got = req
		return wire.OK("ignored", wire.Payload{DataType: "text/plain", Data: append([]byte("echo:"), req.Payload.Data...)})
	}))
	require.NoError(t, err)
	require.NoError(t, server.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Forward(ctx, cluster.GatewayRef{ID: "gw-b"}, &wire.Request{
		RequestID: "r1",
		Target:    &wire.AgentID{Type: "echo", Key: "k1"},
		Method:    "Say",
		Payload:   wire.Payload{Data: []byte("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.RequestID, "reply is correlated to the forwarded request")
	assert.Equal(t, []byte("echo:hi"), resp.Payload.Data)
	require.NotNil(t, got)
	assert.Equal(t, "echo/k1", got.Target.String())
}

func TestForward_NoResponders(t *testing.T) {
	bus := startBus(t)
	client := connect(t, bus, "gw-a")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Forward(ctx, cluster.GatewayRef{ID: "gw-missing"}, &wire.Request{RequestID: "r1"})
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestForward_Timeout(t *testing.T) {
	bus := startBus(t)
	server := connect(t, bus, "gw-b")
	client := connect(t, bus, "gw-a")

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, server.Serve(context.Background(), "gw-b", HandlerFunc(func(ctx context.Context, req *wire.Request) *wire.Response {
		<-release
		return wire.OK(req.RequestID, wire.Payload{})
	})))
	require.NoError(t, server.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Forward(ctx, cluster.GatewayRef{ID: "gw-b"}, &wire.Request{RequestID: "r1"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestEvents_SkipOwnOrigin(t *testing.T) {
	bus := startBus(t)
	a := connect(t, bus, "gw-a")
	b := connect(t, bus, "gw-b")

	fromA := make(chan *wire.Event, 4)
	fromB := make(chan *wire.Event, 4)
	require.NoError(t, a.ServeEvents("gw-a", func(ev *wire.Event) { fromA <- ev }))
	require.NoError(t, b.ServeEvents("gw-b", func(ev *wire.Event) { fromB <- ev }))
	require.NoError(t, a.Flush())
	require.NoError(t, b.Flush())

	require.NoError(t, a.PublishEvent("gw-a", &wire.Event{ID: "e1", Topic: "orders"}))
	require.NoError(t, a.Flush())

	select {
	case ev := <-fromB:
		assert.Equal(t, "e1", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for relayed event")
	}

	select {
	case ev := <-fromA:
		t.Fatalf("origin received its own event %s", ev.ID)
	case <-time.After(100 * time.Millisecond):
	}
}
