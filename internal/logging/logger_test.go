package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		level    LogLevel
		expected slog.Level
	}{
		{name: "Debug level", level: LevelDebug, expected: slog.LevelDebug},
		{name: "Info level", level: LevelInfo, expected: slog.LevelInfo},
		{name: "Warn level", level: LevelWarn, expected: slog.LevelWarn},
		{name: "Error level", level: LevelError, expected: slog.LevelError},
		{name: "Upper case is accepted", level: LogLevel("DEBUG"), expected: slog.LevelDebug},
		{name: "Invalid level defaults to Info", level: LogLevel("invalid"), expected: slog.LevelInfo},
		{name: "Empty level defaults to Info", level: LogLevel(""), expected: slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLevel(tc.level))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	originalLogger := defaultLogger
	defer func() {
		defaultLogger = originalLogger
		slog.SetDefault(originalLogger)
	}()

	testCases := []struct {
		name      string
		level     LogLevel
		shouldLog map[string]bool
	}{
		{
			name:      "Debug logs everything",
			level:     LevelDebug,
			shouldLog: map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true},
		},
		{
			name:      "Warn drops debug and info",
			level:     LevelWarn,
			shouldLog: map[string]bool{"DEBUG": false, "INFO": false, "WARN": true, "ERROR": true},
		},
		{
			name:      "Error only logs errors",
			level:     LevelError,
			shouldLog: map[string]bool{"DEBUG": false, "INFO": false, "WARN": false, "ERROR": true},
		},
	}

	funcs := map[string]func(string, ...any){
		"DEBUG": Debug,
		"INFO":  Info,
		"WARN":  Warn,
		"ERROR": Error,
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetupLogger(&buf, tc.level)

			for name, logFunc := range funcs {
				buf.Reset()
				logFunc("test message", "key", "value")
				output := buf.String()

				if tc.shouldLog[name] {
					assert.Contains(t, output, "level="+name)
					assert.Contains(t, output, "test message")
					assert.Contains(t, output, "key=value")
				} else {
					assert.Empty(t, output, "%s should not be logged at %s", name, tc.level)
				}
			}
		})
	}
}

func TestWith(t *testing.T) {
	originalLogger := defaultLogger
	defer func() {
		defaultLogger = originalLogger
		slog.SetDefault(originalLogger)
	}()

	var buf bytes.Buffer
	SetupLogger(&buf, LevelInfo)

	With("attempt", "01ABC").Info("processing issue", "issue_number", 42)

	output := buf.String()
	assert.Contains(t, output, "attempt=01ABC")
	assert.Contains(t, output, "issue_number=42")
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	f, err := OpenLogFile("autopr", dir)
	require.NoError(t, err)
	defer f.Close()

	expected := filepath.Join(dir, "autopr-"+time.Now().Format("2006-01-02")+".log")
	assert.Equal(t, expected, f.Name())

	_, err = f.WriteString("hello\n")
	require.NoError(t, err)

	data, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestSetupFileLogger(t *testing.T) {
	originalLogger := defaultLogger
	defer func() {
		defaultLogger = originalLogger
		slog.SetDefault(originalLogger)
	}()

	dir := t.TempDir()
	closer, err := SetupFileLogger("autopr", dir, LevelInfo)
	require.NoError(t, err)

	Info("written to file", "issue_number", 7)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "autopr-"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestMaskSensitive(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty string", input: "", expected: "<not set>"},
		{name: "Short string", input: "abc", expected: "<set>"},
		{name: "Exactly 4 characters", input: "abcd", expected: "<set>"},
		{name: "Long string", input: "abcdefghijklm", expected: "abcd...***"},
		{name: "Token-like string", input: "ghp_2Dn5j8fk39Dkf0s", expected: "ghp_...***"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, MaskSensitive(tc.input))
		})
	}
}
