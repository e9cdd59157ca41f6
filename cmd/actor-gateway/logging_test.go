// ABOUTME: Tests for the process logger setup
// ABOUTME: Checks level filtering, attribute rendering and JSON output

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/actor-gateway/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler_FiltersAndRendersAttrs(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info", Format: "text"})

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("routed", "agent", "echo/k1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF routed")
	assert.Contains(t, out, " component=gateway")
	assert.Contains(t, out, " req.agent=echo/k1")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	logger.Debug("announce", "gateway_id", "gw-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "announce", line["msg"])
	assert.Equal(t, "gw-1", line["gateway_id"])
	assert.Equal(t, "DEBUG", line["level"])
}
