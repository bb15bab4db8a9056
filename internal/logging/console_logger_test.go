package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func newTestConsole(buf *bytes.Buffer, level LogLevel) *ConsoleLogger {
	return NewConsoleLogger(ConsoleLoggerConfig{
		Writer:          buf,
		Level:           level,
		RedactSensitive: true,
	})
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, WARN)

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("messages below WARN were written: %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("expected WARN and ERROR lines, got %q", out)
	}
}

func TestConsoleLogger_FieldsAndWith(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, DEBUG).With(F("component", "push"))

	logger.Info("uploaded", F("path", "notes.txt"))

	out := buf.String()
	if !strings.Contains(out, "component=push, path=notes.txt") {
		t.Errorf("expected scoped and call fields, got %q", out)
	}
}

func TestConsoleLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, DEBUG)

	logger.Info("request", F("header", "Bearer abc.def.ghi"))

	out := buf.String()
	if strings.Contains(out, "abc.def.ghi") {
		t.Errorf("token leaked: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker: %q", out)
	}
}

func TestConsoleLogger_TraceIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, DEBUG)

	ctx := ContextWithTraceID(context.Background(), "0123456789abcdef")
	logger.WithContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "[01234567]") {
		t.Errorf("expected short trace id, got %q", buf.String())
	}
	if logger.WithContext(context.Background()) != Logger(logger) {
		t.Error("WithContext without trace id should return the same logger")
	}
}

func TestConsoleLogger_SetLevelAffectsDerived(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, ERROR)
	derived := logger.With(F("k", "v"))

	logger.SetLevel(DEBUG)
	derived.Debug("now visible")

	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("derived logger ignored SetLevel: %q", buf.String())
	}
}
