package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLogSettings(t *testing.T) {
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel(" WARNING "))
	assert.Equal(t, LogLevelDebug, NormalizeLogLevel("Debug"))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("verbose"))
	assert.Equal(t, LogFormatJSON, NormalizeLogFormat("JSON"))
	assert.Equal(t, LogFormatText, NormalizeLogFormat(""))

	assert.Equal(t, slog.LevelError, LogLevelError.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogLevel("loud").SlogLevel())
}

func TestLoggingConfigNewHandler(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingConfig{Level: LogLevelWarn, Format: LogFormatJSON}.NewHandler(&buf)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))

	slog.New(h).Warn("disk low", "package", "core")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "disk low", rec["msg"])
	assert.Equal(t, "core", rec["package"])

	buf.Reset()
	slog.New(LoggingConfig{}.NewHandler(&buf)).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
