package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "prod")).With(slog.String("service", "auctiond"))
	logger.Info("listening", "addr", "0.0.0.0:8545")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "listening" {
		t.Fatalf("message = %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity = %v", line["severity"])
	}
	if line["service"] != "auctiond" {
		t.Fatalf("service = %v", line["service"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", line)
	}
}

func TestLevelFollowsEnvironment(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "prod")).Debug("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("debug emitted in prod: %s", buf.String())
	}

	buf.Reset()
	slog.New(NewHandler(&buf, "dev")).Debug("visible")
	if buf.Len() == 0 {
		t.Fatalf("debug suppressed in dev")
	}

	if LevelFor("production") != slog.LevelInfo {
		t.Fatalf("unknown env should default to info")
	}
}
