// ABOUTME: Minimal fake worker for manual and E2E testing; hosts one agent type and echoes requests.
// ABOUTME: Usage: fake-worker [-addr localhost:50051] [-type echo] [-topic orders] [-token JWT]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/2389/actor-gateway/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gateway gRPC address")
	agentType := flag.String("type", "echo", "agent type to host")
	topic := flag.String("topic", "", "event topic prefix to subscribe the agent type to")
	token := flag.String("token", os.Getenv("ACTOR_GATEWAY_TOKEN"), "bearer token when the gateway requires auth")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*addr, *agentType, *topic, *token, logger); err != nil {
		logger.Error("fake worker failed", "error", err)
		os.Exit(1)
	}
}

func run(addr, agentType, topic, token string, logger *slog.Logger) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	stream, err := wire.NewGatewayControlClient(conn).WorkerStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if err := selfRequest(stream, wire.MethodRegisterAgentType, wire.TypeRegisterAgentTypeRequest,
		wire.RegisterAgentTypeRequest{Types: []wire.TypeRegistration{{AgentType: agentType}}}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	if topic != "" {
		if err := selfRequest(stream, wire.MethodAddSubscription, wire.TypeSubscription,
			wire.Subscription{AgentType: agentType, TopicPrefix: topic}); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("recv error: %w", err)
		}

		switch frame.Kind() {
		case wire.KindRequest:
			req := frame.Request
			logger.Info("request", "request_id", req.RequestID, "target", req.Target, "method", req.Method)
			reply := wire.OK(req.RequestID, wire.Payload{
				DataType: req.Payload.DataType,
				Data:     append([]byte(agentType+":"), req.Payload.Data...),
			})
			if err := stream.Send(wire.ResponseFrame(reply)); err != nil {
				logger.Warn("send response", "request_id", req.RequestID, "error", err)
			}
		case wire.KindResponse:
			resp := frame.Response
			if resp.Failed() {
				logger.Warn("gateway rejected request", "request_id", resp.RequestID, "status", resp.Status, "error", resp.Error)
				continue
			}
			logger.Info("gateway acknowledged", "request_id", resp.RequestID)
		case wire.KindEvent:
			ev := frame.Event
			logger.Info("event", "id", ev.ID, "topic", ev.Topic, "type", ev.Type, "metadata", ev.Metadata)
		}
	}
}

func selfRequest(stream wire.WorkerStreamClient, method, payloadType string, body any) error {
	payload, err := wire.EncodePayload(payloadType, body)
	if err != nil {
		return err
	}
	return stream.Send(wire.RequestFrame(&wire.Request{
		RequestID: wire.NewRequestID(),
		Method:    method,
		Payload:   payload,
	}))
}
