package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"verdict/internal/config"
)

// -- Test Helper Functions --

// resetGlobalLogger is critical for ensuring test isolation, as the logger is
// a global singleton. It must run before each test case.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

// newBufferSink hands Initialize an in-memory console writer so tests can
// assert on output without touching stdout.
func newBufferSink() (*bytes.Buffer, zapcore.WriteSyncer) {
	buf := &bytes.Buffer{}
	return buf, zapcore.AddSync(buf)
}

// -- Test Cases --

func TestInitialize(t *testing.T) {

	t.Run("console format produces readable single lines", func(t *testing.T) {
		resetGlobalLogger()
		buf, sink := newBufferSink()

		Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, sink)
		GetLogger().Info("analysis started")

		output := buf.String()
		assert.Contains(t, output, "INFO", "Output should contain the log level")
		assert.Contains(t, output, "analysis started", "Output should contain the message")
		assert.Contains(t, output, "verdict.", "Output should carry the logger name")
	})

	t.Run("json format produces valid structured output", func(t *testing.T) {
		resetGlobalLogger()
		buf, sink := newBufferSink()

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, sink)
		GetLogger().Warn("git lookup failed", zap.String("selector", "#submit-btn"))

		var logEntry map[string]interface{}
		err := json.Unmarshal(buf.Bytes(), &logEntry)
		require.NoError(t, err, "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "verdict", logEntry["logger"])
		assert.Equal(t, "git lookup failed", logEntry["msg"])
		assert.Equal(t, "#submit-btn", logEntry["selector"])
	})

	t.Run("writes to a log file when configured", func(t *testing.T) {
		resetGlobalLogger()
		_, sink := newBufferSink()

		tmpFile, err := os.CreateTemp(t.TempDir(), "logger-test-*.log")
		require.NoError(t, err)
		require.NoError(t, tmpFile.Close())

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: tmpFile.Name(),
			MaxSize: 1,
		}, sink)
		GetLogger().Error("this should go to the file")
		Sync()

		content, err := os.ReadFile(tmpFile.Name())
		require.NoError(t, err)
		assert.Contains(t, string(content), "this should go to the file")
	})

	t.Run("initializes only once", func(t *testing.T) {
		resetGlobalLogger()
		buf1, sink1 := newBufferSink()
		buf2, sink2 := newBufferSink()

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, sink1)
		logger1 := GetLogger()

		// A second call must be ignored entirely.
		Initialize(config.LoggerConfig{Level: "debug", Format: "json"}, sink2)
		logger2 := GetLogger()

		assert.Equal(t, logger1, logger2)
		logger2.Info("after second init")
		logger2.Debug("debug should be filtered by the first config")

		assert.Contains(t, buf1.String(), "after second init")
		assert.NotContains(t, buf1.String(), "debug should be filtered")
		assert.Empty(t, buf2.String(), "the second writer must never be wired up")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger when not initialized", func(t *testing.T) {
		resetGlobalLogger()
		logger := GetLogger()
		require.NotNil(t, logger)
	})

	t.Run("returns the stored logger after initialization", func(t *testing.T) {
		resetGlobalLogger()
		_, sink := newBufferSink()
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, sink)

		logger := GetLogger()
		assert.Equal(t, globalLogger.Load(), logger)
	})
}
