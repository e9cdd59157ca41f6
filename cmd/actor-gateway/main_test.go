// ABOUTME: Tests for the gateway CLI helpers
// ABOUTME: Covers config fallback, token issuing and connection listing output

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/config"
	"github.com/2389/actor-gateway/internal/gateway"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv(config.EnvConfigPath, path)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "(defaults)", path)
	assert.Equal(t, config.BackendMemory, cfg.Cluster.Backend)
}

func TestLoadConfig_InvalidFileFails(t *testing.T) {
	writeConfig(t, "logging:\n  format: xml\n")

	_, _, err := loadConfig()
	assert.Error(t, err)
}

func TestRunToken(t *testing.T) {
	t.Run("requires principal", func(t *testing.T) {
		writeConfig(t, "auth:\n  jwt_secret: s3cret\n")
		assert.Error(t, runToken(nil))
	})

	t.Run("requires secret", func(t *testing.T) {
		writeConfig(t, "gateway:\n  id: gw-1\n")
		assert.Error(t, runToken([]string{"--principal", "worker-1"}))
	})

	t.Run("issues token", func(t *testing.T) {
		writeConfig(t, "auth:\n  jwt_secret: s3cret\n")
		assert.NoError(t, runToken([]string{"--principal", "worker-1", "--types", "echo, orders"}))
	})
}

func TestPrintConnections(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer

	printConnections(&buf, &gateway.ConnectionsResponse{
		GatewayID:  "gw-1",
		Placements: 2,
		Connections: []agent.ConnectionInfo{{
			ID:          "c1",
			Principal:   "worker-1",
			AgentTypes:  []string{"echo", "orders"},
			Pending:     1,
			ConnectedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "gateway gw-1  1 workers, 2 placements")
	assert.Contains(t, out, "c1 (worker-1)  types=echo,orders pending=1 since=2026-01-02T03:04:05Z")
}
