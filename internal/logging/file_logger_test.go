package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestFileLogger_Logging(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sync.log")
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: logPath, Level: INFO})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.Debug("hidden")
	logger.With(F("component", "pull")).WithTraceID("trace-1").Info("poll finished", F("changes", 3))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries := readEntries(t, logPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != "INFO" || e.Message != "poll finished" || e.TraceID != "trace-1" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Fields["component"] != "pull" {
		t.Errorf("component field = %v", e.Fields["component"])
	}
	if e.Fields["changes"] != float64(3) {
		t.Errorf("changes field = %v", e.Fields["changes"])
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "sync.log")
	logger, err := NewFileLogger(FileLoggerConfig{
		FilePath:      logPath,
		Level:         DEBUG,
		MaxFileSize:   200,
		RotateEnabled: true,
	})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	for i := 0; i < 10; i++ {
		logger.Info(strings.Repeat("x", 50))
	}

	matches, err := filepath.Glob(logPath + ".*")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Error("expected at least one rotated file")
	}
}

func TestFileLogger_CloseIsIdempotent(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: filepath.Join(t.TempDir(), "x.log")})
	if err != nil {
		t.Fatal(err)
	}
	derived := logger.WithTraceID("t")
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	derived.Info("after close")
}
