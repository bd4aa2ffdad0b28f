package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, cfg LogConfig) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.Output = buf
	cfg.Format = "json"
	require.NoError(t, InitWithConfig(cfg))
	t.Cleanup(func() { _ = InitWithConfig(LogConfig{Level: "INFO", Format: "text", Output: &bytes.Buffer{}}) })
	return buf
}

func TestTradeEventFields(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO"})

	Trade(context.Background(), "EURUSD", "BUY", 0.5, 1.1012, "42", "stop_loss", 1.09)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "TRADE", rec["type"])
	assert.Equal(t, "EURUSD", rec["symbol"])
	assert.Equal(t, 0.5, rec["volume"])
	assert.Equal(t, "42", rec["order_id"])
	assert.Equal(t, 1.09, rec["stop_loss"])
}

func TestRiskRejectionIsInfo(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO"})

	Risk(context.Background(), "EURUSD", "rejected", "reason", "spread too wide")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "RISK", rec["type"])
}

func TestDebugSuppressedWithoutDetailedLogging(t *testing.T) {
	buf := capture(t, LogConfig{Level: "DEBUG"})

	Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	buf = capture(t, LogConfig{Level: "INFO", DetailedLogging: true})
	Debug(context.Background(), "shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))
	assert.Contains(t, buf.String(), "source")
}
