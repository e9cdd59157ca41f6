// ABOUTME: Hand-written gRPC service descriptor for the worker stream
// ABOUTME: Provides typed server registration and a client stub over the CBOR codec

package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "actorgateway.v1.GatewayControl"

	// WorkerStreamMethod is the full method name of the bidirectional worker stream.
	WorkerStreamMethod = "/" + ServiceName + "/WorkerStream"
)

// WorkerStream is the server side of a worker connection.
type WorkerStream = grpc.BidiStreamingServer[Frame, Frame]

// WorkerStreamClient is the worker side of a connection.
type WorkerStreamClient = grpc.BidiStreamingClient[Frame, Frame]

// GatewayControlServer is implemented by the gateway.
type GatewayControlServer interface {
	WorkerStream(WorkerStream) error
}

// UnimplementedGatewayControlServer can be embedded for forward compatibility.
type UnimplementedGatewayControlServer struct{}

func (UnimplementedGatewayControlServer) WorkerStream(WorkerStream) error {
	return status.Error(codes.Unimplemented, "method WorkerStream not implemented")
}

func workerStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(GatewayControlServer).WorkerStream(&grpc.GenericServerStream[Frame, Frame]{ServerStream: stream})
}

// GatewayControlServiceDesc describes the service for grpc.Server.RegisterService.
var GatewayControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayControlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WorkerStream",
			Handler:       workerStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "actorgateway/v1/gateway.proto",
}

// RegisterGatewayControlServer registers srv on s.
func RegisterGatewayControlServer(s grpc.ServiceRegistrar, srv GatewayControlServer) {
	s.RegisterService(&GatewayControlServiceDesc, srv)
}

// GatewayControlClient opens worker streams against a gateway.
type GatewayControlClient struct {
	cc grpc.ClientConnInterface
}

// NewGatewayControlClient wraps a client connection.
func NewGatewayControlClient(cc grpc.ClientConnInterface) *GatewayControlClient {
	return &GatewayControlClient{cc: cc}
}

// WorkerStream opens a bidirectional stream. Frames are always CBOR encoded.
func (c *GatewayControlClient) WorkerStream(ctx context.Context, opts ...grpc.CallOption) (WorkerStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &GatewayControlServiceDesc.Streams[0], WorkerStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Frame, Frame]{ClientStream: stream}, nil
}
