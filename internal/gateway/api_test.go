// ABOUTME: Tests for the HTTP health, connections and metrics endpoints
// ABOUTME: Handlers are driven with httptest against a gateway with live workers

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	h := startGateway(t, testConfig("gw-http"), nil, nil)

	rec := get(t, h.gw.httpHandler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleReady(t *testing.T) {
	h := startGateway(t, testConfig("gw-http"), nil, nil)
	handler := h.gw.httpHandler()

	rec := get(t, handler, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	w := h.connect(t)
	w.register("echo")

	rec = get(t, handler, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1 workers")
}

func TestHandleListConnections(t *testing.T) {
	h := startGateway(t, testConfig("gw-http"), nil, nil)
	handler := h.gw.httpHandler()

	w := h.connect(t)
	w.register("echo", "orders")

	rec := get(t, handler, "/api/connections")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ConnectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "gw-http", body.GatewayID)
	require.Len(t, body.Connections, 1)
	assert.Equal(t, []string{"echo", "orders"}, body.Connections[0].AgentTypes)
	assert.Equal(t, "anonymous", body.Connections[0].Principal)
	assert.Equal(t, []string{"echo", "orders"}, body.AgentTypes)
}

func TestHandleListConnections_MethodNotAllowed(t *testing.T) {
	h := startGateway(t, testConfig("gw-http"), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/connections", nil)
	rec := httptest.NewRecorder()
	h.gw.httpHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := startGateway(t, testConfig("gw-http"), nil, nil)

	w := h.connect(t)
	w.call(targeted("r1", "missing", "k", ""))

	rec := get(t, h.gw.httpHandler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `actor_gateway_frames_received_total{kind="request"} 1`), body)
	assert.Contains(t, body, `actor_gateway_requests_forwarded_total{outcome="not_found",route="none"} 1`)
	assert.Contains(t, body, "actor_gateway_connections 1")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig("gw-http")
	cfg.Metrics.Enabled = false
	h := startGateway(t, cfg, nil, nil)

	rec := get(t, h.gw.httpHandler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
