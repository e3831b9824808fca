package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"
)

func TestShouldLogLevels(t *testing.T) {
	tests := []struct {
		level   string
		current string
		want    bool
	}{
		{"debug", "debug", true},
		{"info", "debug", true},
		{"warn", "info", true},
		{"error", "warn", true},
		{"debug", "info", false},
		{"info", "warn", false},
		{"warn", "error", false},
		{"unknown", "error", false},
		{"error", "unknown", true},
		{"unknown", "unknown", true},
	}

	for _, tc := range tests {
		if got := shouldLog(tc.level, tc.current); got != tc.want {
			t.Fatalf("shouldLog(%q, %q)=%v, want %v", tc.level, tc.current, got, tc.want)
		}
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	log := New("info")
	buf := &bytes.Buffer{}
	log.out = buf

	log.Info("hello", map[string]any{"k": "v"})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected level info, got %v", entry["level"])
	}
	if entry["msg"] != "hello" {
		t.Fatalf("expected msg hello, got %v", entry["msg"])
	}
	if entry["k"] != "v" {
		t.Fatalf("expected field k=v, got %v", entry["k"])
	}
	if entry["ts"] == "" {
		t.Fatalf("expected ts to be set")
	}
}

func TestLoggerSkipsDebugBelowLevel(t *testing.T) {
	log := New("info")
	buf := &bytes.Buffer{}
	log.out = buf

	log.Debug("debug", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestLoggerHookReceivesEntry(t *testing.T) {
	log := New("info")
	log.out = io.Discard

	ch := make(chan map[string]any, 1)
	log.AddHook(func(entry map[string]any) {
		ch <- entry
	})

	log.Warn("warn-msg", map[string]any{"x": "y"})

	select {
	case entry := <-ch:
		if entry["msg"] != "warn-msg" {
			t.Fatalf("expected msg warn-msg, got %v", entry["msg"])
		}
		if entry["level"] != "warn" {
			t.Fatalf("expected level warn, got %v", entry["level"])
		}
		if entry["x"] != "y" {
			t.Fatalf("expected field x=y, got %v", entry["x"])
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected hook to be called")
	}
}

func TestWithAddsFieldsAndSharesOutput(t *testing.T) {
	log := New("debug")
	buf := &bytes.Buffer{}
	log.SetOutput(buf)

	child := log.With(map[string]any{"iface": "eth0"})
	child.Debug("link up", map[string]any{"speed": 100})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if entry["iface"] != "eth0" {
		t.Fatalf("expected iface field, got %v", entry["iface"])
	}
	if entry["speed"] != float64(100) {
		t.Fatalf("expected speed 100, got %v", entry["speed"])
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var log *Logger
	log.Info("ignored", nil)
	log.AddHook(func(map[string]any) {})
	if log.With(map[string]any{"a": 1}) != nil {
		t.Fatalf("expected nil child")
	}
}

func TestThrottleSuppressesBursts(t *testing.T) {
	log := New("debug")
	buf := &bytes.Buffer{}
	log.SetOutput(buf)

	th := NewThrottle(log, time.Hour, 2)
	for i := 0; i < 5; i++ {
		th.Warn("rx", "bad frame", nil)
	}
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
	if th.Dropped("rx") != 3 {
		t.Fatalf("expected 3 dropped, got %d", th.Dropped("rx"))
	}
	th.Warn("other", "bad frame", nil)
	if lines := bytes.Count(buf.Bytes(), []byte("\n")); lines != 3 {
		t.Fatalf("expected separate key to pass, got %d lines", lines)
	}
}
