package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStructuredLog_WritesJSONRecord(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "events.log")
	s, err := NewStructuredLog("log", "json", "info", logFile, 1024, 2)
	if err != nil {
		t.Fatalf("new structured log: %v", err)
	}
	defer s.Close()

	result := s.Notify(context.Background(), processedFixture())
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"ethereum_0xabc"`) {
		t.Errorf("log record missing event id: %s", content)
	}
}

func TestStructuredLog_TextFormat(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "events.log")
	s, err := NewStructuredLog("log", "text", "info", logFile, 1024, 2)
	if err != nil {
		t.Fatalf("new structured log: %v", err)
	}
	defer s.Close()

	line, err := s.render(processedFixture())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(line, "event=ethereum_0xabc") || !strings.Contains(line, "chain=ethereum") {
		t.Errorf("unexpected text record %q", line)
	}
}
