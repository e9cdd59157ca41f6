// ABOUTME: Frame types exchanged between workers, gateways and callers
// ABOUTME: A frame carries exactly one of a request, a response or a published event

package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// AgentID identifies one logical agent instance. It is comparable and safe to use as a map key.
type AgentID struct {
	Type string `cbor:"type"`
	Key  string `cbor:"key"`
}

// String renders the identity as "type/key".
func (a AgentID) String() string {
	return a.Type + "/" + a.Key
}

// Valid reports whether both halves of the identity are set.
func (a AgentID) Valid() bool {
	return a.Type != "" && a.Key != ""
}

// Payload is an opaque body tagged with its declared data type.
type Payload struct {
	DataType string `cbor:"data_type,omitempty"`
	Data     []byte `cbor:"data,omitempty"`
}

// Request asks an agent (Target set) or the gateway itself (Target nil) to run Method.
type Request struct {
	RequestID string            `cbor:"request_id"`
	Target    *AgentID          `cbor:"target,omitempty"`
	Source    *AgentID          `cbor:"source,omitempty"`
	Method    string            `cbor:"method"`
	Payload   Payload           `cbor:"payload"`
	Metadata  map[string]string `cbor:"metadata,omitempty"`
}

// Response answers the request with the same RequestID.
// Status is OK on success; Error carries a human readable message otherwise.
type Response struct {
	RequestID string            `cbor:"request_id"`
	Status    Code              `cbor:"status"`
	Error     string            `cbor:"error,omitempty"`
	Payload   Payload           `cbor:"payload"`
	Metadata  map[string]string `cbor:"metadata,omitempty"`
}

// Failed reports whether the response carries a failure.
func (r *Response) Failed() bool {
	return r.Status != CodeOK || r.Error != ""
}

// Event is a published message. Topic is the source/topic the event was published on.
type Event struct {
	ID       string            `cbor:"id,omitempty"`
	Topic    string            `cbor:"topic"`
	Type     string            `cbor:"type"`
	Source   *AgentID          `cbor:"source,omitempty"`
	Payload  Payload           `cbor:"payload"`
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

// Frame is the unit sent on a worker stream.
type Frame struct {
	Request  *Request  `cbor:"request,omitempty"`
	Response *Response `cbor:"response,omitempty"`
	Event    *Event    `cbor:"event,omitempty"`
}

// Kind classifies a frame by which body it carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Kind returns the frame's classification. A frame with no body, or with more
// than one body set, is KindUnknown.
func (f *Frame) Kind() Kind {
	if f == nil {
		return KindUnknown
	}
	kind := KindUnknown
	set := 0
	if f.Request != nil {
		kind = KindRequest
		set++
	}
	if f.Response != nil {
		kind = KindResponse
		set++
	}
	if f.Event != nil {
		kind = KindEvent
		set++
	}
	if set != 1 {
		return KindUnknown
	}
	return kind
}

// NewRequestID returns a fresh correlation id.
func NewRequestID() string {
	return uuid.New().String()
}

// RequestFrame wraps a request.
func RequestFrame(req *Request) *Frame {
	return &Frame{Request: req}
}

// ResponseFrame wraps a response.
func ResponseFrame(resp *Response) *Frame {
	return &Frame{Response: resp}
}

// EventFrame wraps an event.
func EventFrame(ev *Event) *Frame {
	return &Frame{Event: ev}
}

// OK builds a successful response for requestID.
func OK(requestID string, payload Payload) *Response {
	return &Response{RequestID: requestID, Status: CodeOK, Payload: payload}
}

// Failure builds a failed response for requestID.
func Failure(requestID string, code Code, format string, args ...any) *Response {
	return &Response{
		RequestID: requestID,
		Status:    code,
		Error:     fmt.Sprintf(format, args...),
	}
}
