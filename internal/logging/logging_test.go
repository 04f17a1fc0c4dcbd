package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitJSONWithService(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	initTo(&buf, "relay", "json", "info")
	slog.Info("inbound relayed", "tenant_id", "tnt_1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if line["service"] != "relay" || line["tenant_id"] != "tnt_1" {
		t.Fatalf("line: %v", line)
	}
}

func TestInitLevelAndText(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	initTo(&buf, "relay-worker", "text", "warn")
	slog.Info("hidden")
	slog.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Fatalf("output: %q", out)
	}
}

func TestParseLevelFallback(t *testing.T) {
	if parseLevel("loud") != slog.LevelInfo || parseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("level parsing")
	}
}
