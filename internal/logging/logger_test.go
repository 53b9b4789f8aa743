package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/config"
)

func TestProdLoggerWritesJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.EnvProd, "tracker-api", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("activity_id", "7").Msg("saved")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "saved", entry["message"])
	require.Equal(t, "tracker-api", entry["service"])
	require.Equal(t, "7", entry["activity_id"])
	require.Contains(t, entry, "timestamp")
}

func TestLocalLoggerIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.EnvLocal, "tracker-api", &buf)

	logger.Debug().Msg("visible")
	require.Contains(t, buf.String(), "visible")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
