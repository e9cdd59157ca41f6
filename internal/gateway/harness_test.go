// ABOUTME: Test harness running a gateway over bufconn with real worker streams
// ABOUTME: Workers are scripted clients that send frames and collect what the gateway sends back

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/config"
	"github.com/2389/actor-gateway/internal/peer"
	"github.com/2389/actor-gateway/internal/store"
	"github.com/2389/actor-gateway/internal/wire"
)

const waitFor = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(id string) *config.Config {
	cfg := config.Default()
	cfg.Gateway.ID = id
	cfg.Gateway.ResponseTimeout = time.Second
	cfg.Gateway.AnnounceInterval = time.Hour
	cfg.Server.HTTPAddr = ""
	return cfg
}

type harness struct {
	gw  *Gateway
	lis *bufconn.Listener
}

// startGateway serves a gateway on an in-memory listener until the test ends.
func startGateway(t *testing.T, cfg *config.Config, coord cluster.Coordinator, pc *peer.Client) *harness {
	t.Helper()
	if coord == nil {
		coord = cluster.NewMemory(0)
	}
	gw := assemble(cfg, deps{coord: coord, state: store.NewMemoryStore(), peer: pc}, testLogger())
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, lis, nil) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("gateway Serve() error = %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("gateway did not stop")
		}
	})
	return &harness{gw: gw, lis: lis}
}

type testWorker struct {
	t      *testing.T
	cc     *grpc.ClientConn
	stream wire.WorkerStreamClient
	sendMu sync.Mutex

	responses chan *wire.Response
	requests  chan *wire.Request
	events    chan *wire.Event
	errs      chan error
}

// connect opens a worker stream. md is optional outgoing metadata as key/value pairs.
func (h *harness) connect(t *testing.T, md ...string) *testWorker {
	t.Helper()
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return h.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	ctx := context.Background()
	if len(md) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, md...)
	}
	stream, err := wire.NewGatewayControlClient(cc).WorkerStream(ctx)
	require.NoError(t, err)

	w := &testWorker{
		t:         t,
		cc:        cc,
		stream:    stream,
		responses: make(chan *wire.Response, 64),
		requests:  make(chan *wire.Request, 64),
		events:    make(chan *wire.Event, 64),
		errs:      make(chan error, 1),
	}
	go w.recvLoop()
	t.Cleanup(w.close)
	return w
}

func (w *testWorker) recvLoop() {
	for {
		f, err := w.stream.Recv()
		if err != nil {
			w.errs <- err
			return
		}
		switch f.Kind() {
		case wire.KindResponse:
			w.responses <- f.Response
		case wire.KindRequest:
			w.requests <- f.Request
		case wire.KindEvent:
			w.events <- f.Event
		}
	}
}

func (w *testWorker) close() {
	_ = w.stream.CloseSend()
	_ = w.cc.Close()
}

func (w *testWorker) send(f *wire.Frame) {
	w.t.Helper()
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	require.NoError(w.t, w.stream.Send(f))
}

func (w *testWorker) nextResponse() *wire.Response {
	w.t.Helper()
	select {
	case r := <-w.responses:
		return r
	case err := <-w.errs:
		w.t.Fatalf("stream failed: %v", err)
	case <-time.After(waitFor):
		w.t.Fatal("timeout waiting for response")
	}
	return nil
}

func (w *testWorker) nextRequest() *wire.Request {
	w.t.Helper()
	select {
	case r := <-w.requests:
		return r
	case <-time.After(waitFor):
		w.t.Fatal("timeout waiting for request")
	}
	return nil
}

func (w *testWorker) nextEvent() *wire.Event {
	w.t.Helper()
	select {
	case ev := <-w.events:
		return ev
	case <-time.After(waitFor):
		w.t.Fatal("timeout waiting for event")
	}
	return nil
}

func (w *testWorker) expectNoEvent(d time.Duration) {
	w.t.Helper()
	select {
	case ev := <-w.events:
		w.t.Fatalf("unexpected event %s on %s", ev.ID, ev.Topic)
	case <-time.After(d):
	}
}

func (w *testWorker) expectNoResponse(d time.Duration) {
	w.t.Helper()
	select {
	case r := <-w.responses:
		w.t.Fatalf("unexpected response %s (%s)", r.RequestID, r.Status)
	case <-time.After(d):
	}
}

// call sends req and waits for its response.
func (w *testWorker) call(req *wire.Request) *wire.Response {
	w.t.Helper()
	w.send(wire.RequestFrame(req))
	resp := w.nextResponse()
	require.Equal(w.t, req.RequestID, resp.RequestID)
	return resp
}

// self calls a self-service method with body encoded as name.
func (w *testWorker) self(method, name string, body any) *wire.Response {
	w.t.Helper()
	var p wire.Payload
	if body != nil {
		var err error
		p, err = wire.EncodePayload(name, body)
		require.NoError(w.t, err)
	}
	return w.call(&wire.Request{RequestID: wire.NewRequestID(), Method: method, Payload: p})
}

func (w *testWorker) register(types ...string) {
	w.t.Helper()
	body := wire.RegisterAgentTypeRequest{}
	for _, at := range types {
		body.Types = append(body.Types, wire.TypeRegistration{AgentType: at})
	}
	resp := w.self(wire.MethodRegisterAgentType, wire.TypeRegisterAgentTypeRequest, body)
	require.False(w.t, resp.Failed(), "register %v: %s", types, resp.Error)
}

func (w *testWorker) subscribe(agentType, topic string) string {
	w.t.Helper()
	resp := w.self(wire.MethodAddSubscription, wire.TypeSubscription, wire.Subscription{AgentType: agentType, TopicType: topic})
	require.False(w.t, resp.Failed(), "subscribe: %s", resp.Error)
	var sub wire.Subscription
	require.NoError(w.t, wire.DecodePayload(resp.Payload, wire.TypeSubscription, &sub))
	return sub.ID
}

// serve answers every incoming request with fn until the test ends.
func (w *testWorker) serve(fn func(*wire.Request) *wire.Response) {
	done := make(chan struct{})
	w.t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case req := <-w.requests:
				resp := fn(req)
				resp.RequestID = req.RequestID
				w.sendMu.Lock()
				_ = w.stream.Send(wire.ResponseFrame(resp))
				w.sendMu.Unlock()
			case <-done:
				return
			}
		}
	}()
}

func echo(req *wire.Request) *wire.Response {
	return wire.OK(req.RequestID, wire.Payload{
		DataType: req.Payload.DataType,
		Data:     append([]byte("echo:"), req.Payload.Data...),
	})
}

func targeted(id, agentType, key string, data string) *wire.Request {
	return &wire.Request{
		RequestID: id,
		Target:    &wire.AgentID{Type: agentType, Key: key},
		Method:    "Say",
		Payload:   wire.Payload{DataType: "text/plain", Data: []byte(data)},
	}
}
