// ABOUTME: In-band status codes carried by failure responses
// ABOUTME: Mirrors the subset of gRPC codes the gateway can surface to a caller

package wire

import "google.golang.org/grpc/codes"

// Code is the terminal status of a response.
type Code uint32

const (
	CodeOK                 Code = Code(codes.OK)
	CodeInvalidArgument    Code = Code(codes.InvalidArgument)
	CodeDeadlineExceeded   Code = Code(codes.DeadlineExceeded)
	CodeNotFound           Code = Code(codes.NotFound)
	CodeFailedPrecondition Code = Code(codes.FailedPrecondition)
	CodeInternal           Code = Code(codes.Internal)
	CodeUnavailable        Code = Code(codes.Unavailable)
	CodeUnknown            Code = Code(codes.Unknown)
)

// String returns the gRPC spelling of the code, e.g. "NotFound".
func (c Code) String() string {
	return codes.Code(c).String()
}
