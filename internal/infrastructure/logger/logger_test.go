package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bella-server/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.raw))
		})
	}
}

func TestComponentLoggerCarriesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{ServiceName: "bella-server", Environment: "test", LogLevel: "info"}

	log := Component(newWithWriter(cfg, &buf), "workflow")
	log.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bella-server", entry["service"])
	assert.Equal(t, "test", entry["environment"])
	assert.Equal(t, "workflow", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}
