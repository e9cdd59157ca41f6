// Package wire defines the frames exchanged on worker streams and between gateways.
//
// # Frames
//
// Every message on a worker stream is a Frame carrying exactly one of:
//
//   - Request: a call with a correlation id, an optional target AgentID, a
//     method name and an opaque, type-tagged Payload
//   - Response: the answer to a request, correlated by the same id, with a
//     status Code and optional error text
//   - Event: a published message with a topic, an event type and a payload
//
// Frame.Kind classifies a frame. A frame with no body or several bodies is
// KindUnknown and answered with a protocol error.
//
// # Encoding
//
// Frames are CBOR (Core Deterministic Encoding). The codec is registered with
// grpc under the content-subtype "cbor", and the GatewayControl service is
// declared by hand in service.go, so no code generation step is involved:
//
//	service GatewayControl {
//	    rpc WorkerStream(stream Frame) returns (stream Frame);
//	}
//
// # Self-service methods
//
// Requests without a target are addressed to the gateway itself. Their bodies
// are encoded with EncodePayload and tagged "cbor:<TypeName>"; see messages.go
// for the method and body catalogue.
package wire
