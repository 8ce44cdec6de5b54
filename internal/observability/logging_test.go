package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_FileSink(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "session.log")

	logger, cleanup, err := NewLogger(&Config{
		Level:      "debug",
		LogFile:    logPath,
		StderrMode: "off",
		SessionID:  "abc-123",
		Version:    "0.1.0",
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("hello", slog.String("k", "v"))

	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}

	if entry["session.id"] != "abc-123" {
		t.Errorf("session.id = %v", entry["session.id"])
	}

	if entry["k"] != "v" {
		t.Errorf("k = %v", entry["k"])
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, _, err := NewLogger(&Config{Level: "loud", StderrMode: "on"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, _, err := NewLogger(&Config{Format: "xml", StderrMode: "on"})
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestShouldEnableStderr(t *testing.T) {
	tests := []struct {
		mode    string
		tty     bool
		want    bool
		wantErr bool
	}{
		{"auto", true, false, false},
		{"auto", false, true, false},
		{"", true, false, false},
		{"on", true, true, false},
		{"off", false, false, false},
		{"sometimes", false, false, true},
	}

	for _, tt := range tests {
		got, err := shouldEnableStderr(tt.mode, tt.tty)
		if (err != nil) != tt.wantErr {
			t.Errorf("shouldEnableStderr(%q, %v) err = %v", tt.mode, tt.tty, err)
			continue
		}

		if got != tt.want {
			t.Errorf("shouldEnableStderr(%q, %v) = %v, want %v", tt.mode, tt.tty, got, tt.want)
		}
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redactAttr})
	logger := slog.New(handler)

	logger.Info("auth", slog.String("api_key", "sk-sensitive"), slog.String("host", "example.com"))

	out := buf.String()

	if strings.Contains(out, "sk-sensitive") {
		t.Errorf("secret leaked: %s", out)
	}

	if !strings.Contains(out, redactedValue) {
		t.Errorf("redaction marker missing: %s", out)
	}

	if !strings.Contains(out, "example.com") {
		t.Errorf("benign attr dropped: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := WithLogger(context.Background(), logger)

	if got := FromContext(ctx); got != logger {
		t.Error("context did not return the stored logger")
	}

	if got := FromContext(context.Background()); got != slog.Default() {
		t.Error("empty context did not fall back to default")
	}
}
