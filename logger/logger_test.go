package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewWithWriterLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"empty falls back to info", "", zerolog.InfoLevel},
		{"unknown falls back to info", "chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewWithWriter(&bytes.Buffer{}, tt.level, false, nil)
			assert.Equal(t, tt.want, l.Level())
		})
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug", false, nil)

	l.Info().
		Str("service", "datastore").
		Int("attempt", 2).
		Int64("bytes", 128).
		Dur("backoff", 125*time.Millisecond).
		Err(errors.New("boom")).
		Msg("retrying request")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "retrying request", entry["message"])
	assert.Equal(t, "datastore", entry["service"])
	assert.InDelta(t, 2, entry["attempt"], 0)
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "caller")
}

func TestLoggerBelowLevelIsDropped(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn", false, nil)

	l.Info().Msg("hidden")
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestLoggerMasksSensitiveStrings(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info", false, nil)

	l.Info().Str("access_token", "ya29.secret").Str("service", "storage").Msg("refreshed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, DefaultMaskValue, entry["access_token"])
	assert.Equal(t, "storage", entry["service"])
}

func TestWithFieldsFiltersAndCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, "info", false, nil)

	l := base.WithFields(map[string]any{
		"worker":        "w-1",
		"client_secret": "shh",
	})
	l.Error().Msgf("watch %s", "failed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "w-1", entry["worker"])
	assert.Equal(t, DefaultMaskValue, entry["client_secret"])
	assert.Equal(t, "error", entry["level"])
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info().Str("k", "v").Msg("nothing")
		l.WithFields(map[string]any{"a": 1}).Warn().Msg("nothing")
	})
}

func TestLoggerWritesBoolAndTime(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug", false, nil)
	expiry := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

	l.Debug().Bool("has_body", true).Time("expiry", expiry).Msg("Credential refreshed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, true, entry["has_body"])
	assert.Equal(t, expiry.Format(zerolog.TimeFieldFormat), entry["expiry"])
}
