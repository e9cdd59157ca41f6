// ABOUTME: NATS client used to forward requests to other gateways and relay events
// ABOUTME: Requests travel as CBOR frames over NATS request/reply

package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/wire"
)

// DefaultForwardTimeout bounds Forward when ctx carries no deadline.
const DefaultForwardTimeout = 30 * time.Second

var (
	// ErrPeerUnavailable indicates no gateway is listening on the target subject.
	ErrPeerUnavailable = errors.New("peer gateway unavailable")

	// ErrBadReply indicates a peer answered with something other than a response frame.
	ErrBadReply = errors.New("malformed peer reply")
)

// Handler answers requests forwarded by other gateways.
type Handler interface {
	HandlePeerRequest(ctx context.Context, req *wire.Request) *wire.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *wire.Request) *wire.Response

// HandlePeerRequest calls f.
func (f HandlerFunc) HandlePeerRequest(ctx context.Context, req *wire.Request) *wire.Response {
	return f(ctx, req)
}

// Client is one gateway's connection to the peer bus.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
	wg   sync.WaitGroup
}

// Connect dials the NATS server at url. name identifies the connection in
// server monitoring.
func Connect(url, name string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "peer")

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from nats", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to nats", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Serve answers requests sent to gatewayID until ctx is done or the client
// is closed. Each request is handled in its own goroutine.
func (c *Client) Serve(ctx context.Context, gatewayID string, h Handler) error {
	sub, err := c.conn.Subscribe(SubjectInvoke(gatewayID), func(msg *nats.Msg) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleInvoke(ctx, msg, h)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", SubjectInvoke(gatewayID), err)
	}
	c.track(sub)
	c.logger.Info("serving peer requests", "subject", sub.Subject)
	return nil
}

func (c *Client) handleInvoke(ctx context.Context, msg *nats.Msg, h Handler) {
	var frame wire.Frame
	var resp *wire.Response

	if err := wire.Unmarshal(msg.Data, &frame); err != nil || frame.Kind() != wire.KindRequest {
		c.logger.Warn("dropping malformed peer request", "error", err)
		resp = wire.Failure("", wire.CodeInvalidArgument, "malformed peer request")
	} else {
		resp = h.HandlePeerRequest(ctx, frame.Request)
		if resp == nil {
			resp = wire.Failure("", wire.CodeInternal, "no response")
		}
		resp.RequestID = frame.Request.RequestID
	}

	data, err := wire.Marshal(wire.ResponseFrame(resp))
	if err != nil {
		c.logger.Error("encoding peer response", "request_id", resp.RequestID, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("replying to peer", "request_id", resp.RequestID, "error", err)
	}
}

// Forward sends req to the gateway ref and waits for its response until ctx is done.
func (c *Client) Forward(ctx context.Context, ref cluster.GatewayRef, req *wire.Request) (*wire.Response, error) {
	data, err := wire.Marshal(wire.RequestFrame(req))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultForwardTimeout)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, SubjectInvoke(ref.ID), data)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, ref.ID)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("forwarding to %s: %w", ref.ID, err)
	}

	var frame wire.Frame
	if err := wire.Unmarshal(msg.Data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	if frame.Kind() != wire.KindResponse {
		return nil, ErrBadReply
	}
	return frame.Response, nil
}

// PublishEvent relays ev to every other gateway.
func (c *Client) PublishEvent(originID string, ev *wire.Event) error {
	data, err := wire.Marshal(wire.EventFrame(ev))
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	msg := nats.NewMsg(SubjectEvents)
	msg.Header.Set(HeaderOrigin, originID)
	msg.Data = data
	return c.conn.PublishMsg(msg)
}

// ServeEvents delivers events relayed by other gateways to fn. Events this
// gateway relayed itself are skipped.
func (c *Client) ServeEvents(selfID string, fn func(*wire.Event)) error {
	sub, err := c.conn.Subscribe(SubjectEvents, func(msg *nats.Msg) {
		if msg.Header.Get(HeaderOrigin) == selfID {
			return
		}
		var frame wire.Frame
		if err := wire.Unmarshal(msg.Data, &frame); err != nil || frame.Kind() != wire.KindEvent {
			c.logger.Warn("dropping malformed peer event", "error", err)
			return
		}
		fn(frame.Event)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", SubjectEvents, err)
	}
	c.track(sub)
	return nil
}

// Flush round-trips to the server so earlier subscriptions are in effect.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) track(sub *nats.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
}

// Close unsubscribes, waits for in-flight handlers and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	c.wg.Wait()
	c.conn.Close()
	return errors.Join(errs...)
}
