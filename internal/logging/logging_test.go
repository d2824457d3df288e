package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_LevelGateAndModule(t *testing.T) {
	var buf bytes.Buffer
	log := For(New("warn", &buf), "audit")
	log.Info("dropped")
	log.Warn("kept", "count", 3)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if rec["module"] != "audit" || rec["msg"] != "kept" || rec["count"] != float64(3) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestFor_NilLogger(t *testing.T) {
	For(nil, "x").Info("nothing happens")
}
