// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/domlens/internal/config"
)

// setupTestLogger initializes the global logger to write to a buffer.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitializeLogger(t *testing.T) {
	t.Run("console format", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "test-service",
		})

		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, "test-service")
	})

	t.Run("json format", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "test-service",
		})

		GetLogger().Info("structured entry")
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "structured entry", entry["msg"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{
			Level:  "chatty",
			Format: "json",
		})

		GetLogger().Debug("suppressed")
		GetLogger().Info("visible")
		Sync()

		output := buf.String()
		assert.NotContains(t, output, "suppressed")
		assert.Contains(t, output, "visible")
	})

	t.Run("repeat initialization is a no-op", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json"})
		second := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json"})

		GetLogger().Info("routed to first sink")
		Sync()

		assert.Contains(t, buf.String(), "routed to first sink")
		assert.Empty(t, second.String())
	})
}

func TestGetLoggerBeforeInitialization(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}
