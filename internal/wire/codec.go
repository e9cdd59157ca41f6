// ABOUTME: CBOR encoding for frames and self-service payload bodies
// ABOUTME: Registers a gRPC codec so worker streams carry CBOR instead of protobuf

package wire

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype used by worker streams.
const CodecName = "cbor"

// payloadPrefix marks payload bodies encoded by EncodePayload.
const payloadPrefix = "cbor:"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding: identical values always produce identical bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}

	encoding.RegisterCodec(codec{})
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// codec adapts the CBOR modes to grpc's encoding.Codec.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) { return Marshal(v) }

func (codec) Unmarshal(data []byte, v any) error { return Unmarshal(data, v) }

func (codec) Name() string { return CodecName }

// EncodePayload CBOR-encodes v into a payload tagged "cbor:<name>".
func EncodePayload(name string, v any) (Payload, error) {
	data, err := Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encoding %s: %w", name, err)
	}
	return Payload{DataType: payloadPrefix + name, Data: data}, nil
}

// DecodePayload decodes a payload produced by EncodePayload into v.
// The payload must declare the expected name.
func DecodePayload(p Payload, name string, v any) error {
	if !strings.HasPrefix(p.DataType, payloadPrefix) || strings.TrimPrefix(p.DataType, payloadPrefix) != name {
		return fmt.Errorf("%w: want %q, got %q", ErrDataType, payloadPrefix+name, p.DataType)
	}
	if err := Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}
