package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"wabridge/pkg/config"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerJSONCarriesComponent(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "session.manager").Info("Session state changed", "to", "OPEN")

	entries := decodeLines(t, &out)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry["msg"] != "Session state changed" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["component"] != "session.manager" {
		t.Fatalf("component = %v, want session.manager", entry["component"])
	}
	if entry["to"] != "OPEN" {
		t.Fatalf("to = %v, want OPEN", entry["to"])
	}
	if entry["time"] == nil {
		t.Fatal("expected timestamp")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv("WABRIDGE_LOG_LEVEL", "debug")
	t.Setenv("WABRIDGE_LOG_FORMAT", "logfmt")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") || !strings.Contains(line, "component=test") {
		t.Fatalf("expected logfmt override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	_ = os.Unsetenv("WABRIDGE_LOG_LEVEL")
	_ = os.Unsetenv("WABRIDGE_LOG_FORMAT")
	_ = os.Unsetenv("WABRIDGE_LOG_ADD_SOURCE")
}

func TestWhatsAppLoggerForwardsAboveMinimum(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	wa := WhatsApp(log, "Client", "info").Sub("Socket")
	wa.Debugf("dropped %d", 1)
	wa.Warnf("frame error: %s", "eof")

	entries := decodeLines(t, &out)
	if len(entries) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(entries), out.String())
	}
	entry := entries[0]
	if entry["msg"] != "frame error: eof" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["component"] != "whatsmeow" {
		t.Fatalf("component = %v, want whatsmeow", entry["component"])
	}
	if entry["module"] != "Client/Socket" {
		t.Fatalf("module = %v, want Client/Socket", entry["module"])
	}
}
