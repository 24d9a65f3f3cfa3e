package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"Information", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitialize_SilentWhenUnset(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected no-op logger when no level is configured")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")

	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	l := GetLogger()
	if !l.Core().Enabled(zapcore.WarnLevel) {
		t.Error("expected warn level enabled")
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info level disabled")
	}
	logger = zap.NewNop()
}

func TestDumps(t *testing.T) {
	data := []byte("ab\x00c")
	if got := hexDump(data); got != "61620063" {
		t.Errorf("hexDump() = %q", got)
	}
	if got := asciiDump(data); got != "ab.c" {
		t.Errorf("asciiDump() = %q", got)
	}

	long := []byte(strings.Repeat("x", maxDumpBytes+10))
	if got := hexDump(long); !strings.HasSuffix(got, "...") {
		t.Error("hexDump() should truncate long payloads")
	}
	if got := asciiDump(long); len(got) != maxDumpBytes {
		t.Errorf("asciiDump() length = %d, want %d", len(got), maxDumpBytes)
	}
	if hexDump(nil) != "" || asciiDump(nil) != "" {
		t.Error("dumps of empty data should be empty")
	}
}
