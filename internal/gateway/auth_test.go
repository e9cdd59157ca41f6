// ABOUTME: Tests for worker authentication on the gateway stream
// ABOUTME: Covers rejected streams and agent type restrictions from token claims

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/actor-gateway/internal/auth"
	"github.com/2389/actor-gateway/internal/wire"
)

const testSecret = "gateway-test-secret"

func TestAuth_RejectsMissingToken(t *testing.T) {
	cfg := testConfig("gw-auth")
	cfg.Auth.JWTSecret = testSecret
	h := startGateway(t, cfg, nil, nil)

	w := h.connect(t)
	select {
	case err := <-w.errs:
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	case <-time.After(waitFor):
		t.Fatal("stream was not rejected")
	}
	assert.Equal(t, 0, h.gw.registry.Count())
}

func TestAuth_TokenRestrictsAgentTypes(t *testing.T) {
	cfg := testConfig("gw-auth")
	cfg.Auth.JWTSecret = testSecret
	h := startGateway(t, cfg, nil, nil)

	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate("worker-1", time.Hour, "echo")
	require.NoError(t, err)

	w := h.connect(t, "authorization", "Bearer "+token)
	w.register("echo")

	resp := w.self(wire.MethodRegisterAgentType, wire.TypeRegisterAgentTypeRequest, wire.RegisterAgentTypeRequest{
		Types: []wire.TypeRegistration{{AgentType: "billing"}},
	})
	assert.Equal(t, wire.CodeFailedPrecondition, resp.Status)

	conns := h.gw.registry.List()
	require.Len(t, conns, 1)
	assert.Equal(t, "worker-1", conns[0].Principal)
	assert.Equal(t, []string{"echo"}, conns[0].AgentTypes)
}
