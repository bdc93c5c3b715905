package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ZanzyTHEbar/chatrelay/relay/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(config.LogConfig{Level: "info", Format: "json"}, &buf), "dispatch")

	logger.Debug().Msg("hidden")
	logger.Info().Str("user_id", "42").Msg("handled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "42", entry["user_id"])
	assert.Equal(t, "handled", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "debug", Format: "console"}, &buf)

	logger.Debug().Msg("polling started")

	assert.Contains(t, buf.String(), "polling started")
	assert.False(t, json.Valid(buf.Bytes()))
}
