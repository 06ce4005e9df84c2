package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/freeform/internal/config"
)

func initBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestConsoleFormat(t *testing.T) {
	buf := initBuffer(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "freeform",
		Colors:      config.ColorConfig{Info: "green"},
	})
	GetLogger().Named("editor").Info("Committed element", zap.String("element_id", "el_1"))
	Sync()

	out := buf.String()
	assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
	assert.Contains(t, out, "freeform.editor.")
	assert.Contains(t, out, `"element_id": "el_1"`)
}

func TestConsoleWithoutColor(t *testing.T) {
	buf := initBuffer(t, config.LoggerConfig{Level: "info", Format: "console"})
	GetLogger().Warn("plain")
	Sync()
	assert.Contains(t, buf.String(), "WARN")
	assert.NotContains(t, buf.String(), colorReset)
}

func TestJSONFormat(t *testing.T) {
	buf := initBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "freeform"})
	GetLogger().Debug("filtered")
	GetLogger().Warn("Skipping element state", zap.String("reason", "not found"))
	Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug is below the configured level")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "freeform", entry["logger"])
	assert.Equal(t, "not found", entry["reason"])
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	buf := initBuffer(t, config.LoggerConfig{Level: "loud", Format: "json"})
	GetLogger().Debug("hidden")
	GetLogger().Info("shown")
	Sync()
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRotatedFileCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freeform.log")
	buf := initBuffer(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
	GetLogger().Error("goes to both")
	Sync()

	assert.Contains(t, buf.String(), "goes to both")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &entry), "the file copy is always JSON")
	assert.Equal(t, "goes to both", entry["msg"])
}

func TestInitializeOnce(t *testing.T) {
	buf := initBuffer(t, config.LoggerConfig{Level: "info", ServiceName: "first"})
	first := GetLogger()
	InitializeLogger(config.LoggerConfig{Level: "debug", ServiceName: "second"})
	assert.Same(t, first, GetLogger())

	GetLogger().Info("once")
	Sync()
	assert.Contains(t, buf.String(), "first")
	assert.NotContains(t, buf.String(), "second")
}

func TestFallbackLogger(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Nil(t, globalLogger.Load())
}
