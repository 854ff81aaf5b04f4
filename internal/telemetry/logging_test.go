package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithWriters_Fanout(t *testing.T) {
	var text, js bytes.Buffer
	logger := NewLoggerWithWriters(&text, &js, slog.LevelInfo)

	logger.Info("job processed", "record_id", 42)
	logger.Debug("hidden")

	assert.Contains(t, text.String(), "job processed")
	assert.NotContains(t, text.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(js.String())), &entry))
	assert.Equal(t, "job processed", entry["msg"])
	assert.Equal(t, float64(42), entry["record_id"])
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visionq.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	require.NoError(t, cleanup())
}

func TestSetupLogger_NoFile(t *testing.T) {
	logger, cleanup := SetupLogger("", slog.LevelInfo)
	assert.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
