package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestNewLogger_JSON tests the production encoder and level filtering
func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(Config{Level: "warn"}, zapcore.AddSync(&buf))

	log.Info("hidden")
	log.Warn("Record not admitted", zap.String("run_id", "r1"), zap.Int("index", 3))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1, "info is below the configured level")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Record not admitted", entry["message"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, float64(3), entry["index"])
	assert.Contains(t, entry, "timestamp")
}

// TestNewLogger_InvalidLevel tests that an unknown level falls back to info
func TestNewLogger_InvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(Config{Level: "loud"}, zapcore.AddSync(&buf))

	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

// TestNewLogger_File tests writing to a rotated log file
func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "indexer.log")

	log, err := NewLogger(Config{Level: "info", LogFile: path, MaxSize: 1})
	require.NoError(t, err)
	log.Info("Indexing run complete", zap.Int("admitted", 2))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Indexing run complete")
}

// TestNewDevelopmentLogger tests the development logger
func TestNewDevelopmentLogger(t *testing.T) {
	log := NewDevelopmentLogger()
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
