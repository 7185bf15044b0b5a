package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerTo_Format(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"msg":"server.start"`},
		{format: "", want: `"msg":"server.start"`},
		{format: "Pretty", want: "INF server.start addr=127.0.0.1:8080"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		newLoggerTo(&buf, "info", tc.format, false).Info("server.start", "addr", "127.0.0.1:8080")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("format %q: %q does not contain %q", tc.format, buf.String(), tc.want)
		}
	}
}
