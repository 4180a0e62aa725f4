package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{name: "Debug", input: "debug", expected: LevelDebug},
		{name: "Info", input: "info", expected: LevelInfo},
		{name: "Warn", input: "warn", expected: LevelWarn},
		{name: "Warning alias", input: "warning", expected: LevelWarn},
		{name: "Error", input: "error", expected: LevelError},
		{name: "Case insensitive", input: "DEBUG", expected: LevelDebug},
		{name: "Whitespace", input: "  error ", expected: LevelError},
		{name: "Unknown defaults to info", input: "verbose", expected: LevelInfo},
		{name: "Empty defaults to info", input: "", expected: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromEnvDebugFlag(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_LEVEL", "error")

	if got := levelFromEnv(); got != LevelDebug {
		t.Errorf("Expected DEBUG=true to force debug level, got %v", got)
	}
}

func TestLevelFromEnvLogLevel(t *testing.T) {
	os.Unsetenv("DEBUG")
	t.Setenv("LOG_LEVEL", "warn")

	if got := levelFromEnv(); got != LevelWarn {
		t.Errorf("Expected warn level, got %v", got)
	}
}

func TestLogLevelConstants(t *testing.T) {
	levels := []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for i := 0; i < len(levels)-1; i++ {
		if levels[i] >= levels[i+1] {
			t.Errorf("Log levels should be in ascending order: %v >= %v", levels[i], levels[i+1])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	previous := GetLevel()
	defer SetLevel(previous)

	SetLevel(LevelWarn)
	Debug("debug line")
	Info("info line")
	Warn("warn line %d", 1)
	Error("error line %s", "x")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("Expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn line 1") {
		t.Errorf("Expected warn line in output, got %q", out)
	}
	if !strings.Contains(out, "error line x") {
		t.Errorf("Expected error line in output, got %q", out)
	}
}

func TestIsDebugEnabled(t *testing.T) {
	previous := GetLevel()
	defer SetLevel(previous)

	SetLevel(LevelDebug)
	if !IsDebugEnabled() {
		t.Error("Expected debug to be enabled at LevelDebug")
	}

	SetLevel(LevelInfo)
	if IsDebugEnabled() {
		t.Error("Expected debug to be disabled at LevelInfo")
	}
}

func TestAccessIgnoresLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	previous := GetLevel()
	defer SetLevel(previous)
	SetLevel(LevelError)

	Access("2026-01-01 00:00:00 127.0.0.1 GET /ping - 200 8 0")

	if !strings.Contains(buf.String(), "GET /ping") {
		t.Errorf("Expected access line regardless of level, got %q", buf.String())
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
