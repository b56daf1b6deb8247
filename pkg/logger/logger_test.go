/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{TraceLevel, "TRACE"},
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(999), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TraceLevel, ParseLevel("trace"))
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
}

func newBufferLogger(buf *bytes.Buffer, cfg Config) *Logger {
	return &Logger{config: cfg, logger: log.New(buf, "", 0)}
}

func TestLoggerPrettyFieldsKeepOrder(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, Config{Level: InfoLevel, Component: "test"})

	entry := LogEntry{
		Time:      time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Level:     "INFO",
		Message:   "kernel fetched",
		Component: "test",
	}
	result := l.formatPretty(entry, []Field{String("file", "de440s.bsp"), Int64("bytes", 42), Bool("forced", false)})

	for _, part := range []string{"2025-01-01 12:00:00", "[INFO]", "test:", "kernel fetched"} {
		assert.Contains(t, result, part)
	}
	assert.Contains(t, result, "{file=de440s.bsp, bytes=42, forced=false}")
}

func TestLoggerJSONFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, Config{Level: InfoLevel, JSON: true, Component: "test"})

	l.Log(InfoLevel, "listing fetched", String("url", "https://example.test/lsk/"), Int("entries", 3))

	var parsed LogEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &parsed))
	assert.Equal(t, "listing fetched", parsed.Message)
	assert.Equal(t, "INFO", parsed.Level)
	assert.Equal(t, "https://example.test/lsk/", parsed.Fields["url"])
	assert.EqualValues(t, 3, parsed.Fields["entries"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, Config{Level: WarnLevel})

	l.Log(InfoLevel, "info message")
	l.Log(DebugLevel, "debug message")
	l.Log(WarnLevel, "warn message")
	l.Log(ErrorLevel, "error message")

	output := buf.String()
	assert.NotContains(t, output, "info message")
	assert.NotContains(t, output, "debug message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, Field{Key: "key", Value: "value"}, String("key", "value"))
	assert.Equal(t, Field{Key: "count", Value: 42}, Int("count", 42))
	assert.Equal(t, Field{Key: "size", Value: int64(7)}, Int64("size", 7))
	assert.Equal(t, Field{Key: "enabled", Value: true}, Bool("enabled", true))
	assert.Equal(t, Field{Key: "took", Value: "1.5s"}, Duration("took", 1500*time.Millisecond))
	assert.Equal(t, Field{Key: "error", Value: "boom"}, Err(errors.New("boom")))
	assert.Equal(t, Field{Key: "error", Value: "<nil>"}, Err(nil))
}

func TestSetOutputAndConvenience(t *testing.T) {
	require.NoError(t, Initialize(Config{Level: InfoLevel, Component: "test"}))

	var buf bytes.Buffer
	SetOutput(&buf)

	Info("output test message")
	Debug("hidden debug message")
	Warn("visible warning")

	output := buf.String()
	assert.Contains(t, output, "output test message")
	assert.Contains(t, output, "visible warning")
	assert.NotContains(t, output, "hidden debug message")
}

func TestFallbackLogging(t *testing.T) {
	original := defaultLogger
	defaultLogger = nil
	defer func() { defaultLogger = original }()

	// must not panic without an initialized logger
	Info("fallback test message")
	Warn("dropped")
}
