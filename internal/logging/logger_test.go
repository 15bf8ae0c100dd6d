package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestComponentLoggerWritesFormattedMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	Configure(buf, slog.LevelDebug, false)
	defer Configure(os.Stderr, slog.LevelInfo, false)

	logger := NewComponentLogger("cycle")
	logger.Info("claimed task %s for %s", "task-001", "session-a")

	out := buf.String()
	if !strings.Contains(out, "claimed task task-001 for session-a") {
		t.Fatalf("expected formatted message in output, got %q", out)
	}
	if !strings.Contains(out, "component=cycle") {
		t.Fatalf("expected component tag in output, got %q", out)
	}
}

func TestWithNestsComponentName(t *testing.T) {
	buf := &bytes.Buffer{}
	Configure(buf, slog.LevelDebug, false)
	defer Configure(os.Stderr, slog.LevelInfo, false)

	logger := NewComponentLogger("worker").With("session-3")
	logger.Warn("orphaned")

	if !strings.Contains(buf.String(), "component=worker:session-3") {
		t.Fatalf("expected nested component tag, got %q", buf.String())
	}
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	var logger *Logger
	logger.Info("hello %s", "world")
}
