// ABOUTME: GatewayControl gRPC service implementation for worker connections
// ABOUTME: Owns each worker's receive loop and removes the connection when the stream ends

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/auth"
	"github.com/2389/actor-gateway/internal/wire"
)

// workerServer implements the GatewayControl gRPC service.
type workerServer struct {
	wire.UnimplementedGatewayControlServer
	gateway *Gateway
	logger  *slog.Logger
}

func newWorkerServer(gw *Gateway, logger *slog.Logger) *workerServer {
	return &workerServer{
		gateway: gw,
		logger:  logger,
	}
}

// WorkerStream handles the bidirectional stream with one worker.
// Protocol flow:
// 1. Worker opens the stream (authenticated by the interceptor when enabled)
// 2. Worker registers agent types and subscriptions with untargeted requests
// 3. Either side sends requests, responses and events until the stream closes
// Frames from one worker are handled in the order they arrive.
func (s *workerServer) WorkerStream(stream wire.WorkerStream) error {
	ctx := stream.Context()
	g := s.gateway

	if g.closing.Load() {
		return status.Error(codes.Unavailable, ErrShuttingDown.Error())
	}

	principal := auth.PrincipalFromContext(ctx)
	var principalID string
	if principal != nil {
		principalID = principal.ID
	}

	conn := agent.NewConnection(agent.ConnectionParams{
		Principal: principalID,
		Stream:    stream,
		Logger:    s.logger,
	})
	if err := g.registry.Add(conn); err != nil {
		return status.Errorf(codes.Internal, "registering connection: %v", err)
	}
	defer g.disconnect(conn)

	for {
		frame, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("worker disconnected (EOF)", "connection_id", conn.ID)
				return nil
			}
			if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				s.logger.Info("worker stream cancelled", "connection_id", conn.ID)
				return nil
			}
			s.logger.Error("receiving frame", "error", err, "connection_id", conn.ID)
			return status.Errorf(codes.Internal, "receiving frame: %v", err)
		}

		g.handleFrame(ctx, conn, principal, frame)
	}
}

// disconnect removes conn and withdraws agent types no local worker supports anymore.
func (g *Gateway) disconnect(conn *agent.Connection) {
	orphaned := g.registry.Remove(conn)
	if len(orphaned) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, agentType := range orphaned {
		if len(g.registry.ConnectionsSupporting(agentType)) > 0 {
			// re-registered by another worker meanwhile
			continue
		}
		g.registrations.Delete(agentType)
		g.dispatcher.Index().ForgetType(agentType)
		if err := g.coord.UnregisterAgentType(ctx, g.id, agentType); err != nil {
			g.logger.Warn("unregistering agent type", "agent_type", agentType, "error", err)
			continue
		}
		g.logger.Info("agent type withdrawn", "agent_type", agentType)
	}
}
