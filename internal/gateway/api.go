// ABOUTME: HTTP endpoints for health checks, connection listing and metrics
// ABOUTME: Served on server.http_addr next to the gRPC worker server

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/actor-gateway/internal/agent"
)

// ConnectionsResponse is the JSON response for GET /api/connections.
type ConnectionsResponse struct {
	GatewayID   string                 `json:"gateway_id"`
	Connections []agent.ConnectionInfo `json:"connections"`
	AgentTypes  []string               `json:"agent_types"`
	Placements  int                    `json:"placements"`
}

func (g *Gateway) httpHandler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/connections", g.handleListConnections)

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one worker is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.registry.Count()
	if n == 0 || g.closing.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no workers connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d workers)", n)
}

// handleListConnections handles GET /api/connections.
func (g *Gateway) handleListConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := ConnectionsResponse{
		GatewayID:   g.id,
		Connections: g.registry.List(),
		AgentTypes:  g.registry.SupportedTypes(),
		Placements:  g.directory.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Warn("encoding connections response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
