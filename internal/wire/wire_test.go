// ABOUTME: Tests for frame classification, payload tagging and subscription matching
// ABOUTME: Also checks that frames survive the registered gRPC codec

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestFrameKind(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  Kind
	}{
		{"nil frame", nil, KindUnknown},
		{"empty frame", &Frame{}, KindUnknown},
		{"request", RequestFrame(&Request{RequestID: "r1"}), KindRequest},
		{"response", ResponseFrame(&Response{RequestID: "r1"}), KindResponse},
		{"event", EventFrame(&Event{Topic: "t"}), KindEvent},
		{"request and event", &Frame{Request: &Request{}, Event: &Event{}}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.frame.Kind())
		})
	}
}

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	in := RequestFrame(&Request{
		RequestID: "req-1",
		Target:    &AgentID{Type: "echo", Key: "k1"},
		Method:    "Say",
		Payload:   Payload{DataType: "text/plain", Data: []byte("hi")},
	})
	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out Frame
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, KindRequest, out.Kind())
	assert.Equal(t, "echo/k1", out.Request.Target.String())
	assert.Equal(t, []byte("hi"), out.Request.Payload.Data)
}

func TestDecodePayload_RejectsWrongType(t *testing.T) {
	p, err := EncodePayload(TypeSubscription, Subscription{ID: "s1", AgentType: "echo", TopicType: "news"})
	require.NoError(t, err)
	assert.Equal(t, "cbor:Subscription", p.DataType)

	var sub Subscription
	require.NoError(t, DecodePayload(p, TypeSubscription, &sub))
	assert.Equal(t, "echo", sub.AgentType)

	var other RemoveSubscriptionRequest
	err = DecodePayload(p, TypeRemoveSubscription, &other)
	assert.ErrorIs(t, err, ErrDataType)
}

func TestSubscriptionMatches(t *testing.T) {
	exact := Subscription{AgentType: "a", TopicType: "orders"}
	prefix := Subscription{AgentType: "a", TopicPrefix: "orders."}

	assert.True(t, exact.Matches("orders"))
	assert.False(t, exact.Matches("orders.eu"))
	assert.True(t, prefix.Matches("orders.eu"))
	assert.False(t, prefix.Matches("billing"))

	assert.NoError(t, exact.Validate())
	assert.Error(t, Subscription{AgentType: "a"}.Validate())
	assert.Error(t, Subscription{AgentType: "a", TopicType: "x", TopicPrefix: "y"}.Validate())
	assert.Error(t, Subscription{TopicType: "x"}.Validate())
}

func TestTypeRegistrationHandles(t *testing.T) {
	all := TypeRegistration{AgentType: "a"}
	some := TypeRegistration{AgentType: "a", EventTypes: []string{"created"}}

	assert.True(t, all.Handles("anything"))
	assert.True(t, some.Handles("created"))
	assert.False(t, some.Handles("deleted"))
}

func TestFailure(t *testing.T) {
	resp := Failure("r9", CodeNotFound, "agent %s not found", "echo/k1")
	assert.True(t, resp.Failed())
	assert.Equal(t, "r9", resp.RequestID)
	assert.Equal(t, "agent echo/k1 not found", resp.Error)
	assert.Equal(t, "NotFound", resp.Status.String())

	assert.False(t, OK("r9", Payload{}).Failed())
}
