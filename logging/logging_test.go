package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyJSONHandler_GroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.With("worker", 3).WithGroup("search").Debug("done", "iterations", 32, "elapsed", 2*time.Millisecond)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, buf.String())
	}
	if got["msg"] != "done" || got["level"] != "DEBUG" {
		t.Fatalf("got %v", got)
	}
	search, ok := got["search"].(map[string]any)
	if !ok {
		t.Fatalf("missing group: %v", got)
	}
	if search["iterations"] != float64(32) || search["elapsed"] != "2ms" {
		t.Fatalf("search=%v", search)
	}
	if got["worker"] != float64(3) {
		t.Fatalf("attr added before the group was moved into it: %v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Fatal("output is not indented")
	}
}

func TestPrettyJSONHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyJSONHandler(&buf, nil))
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at default level: %s", buf.String())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"text", "msg=hello"},
		{"json", `"msg":"hello"`},
		{"pretty", `"msg": "hello"`},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger, err := New(&buf, tt.format, slog.LevelInfo)
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("hello")
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%s: %q does not contain %q", tt.format, buf.String(), tt.want)
		}
	}
	if _, err := New(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("DEBUG"); err != nil || l != slog.LevelDebug {
		t.Fatalf("l=%v err=%v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrettyJSONHandler_ErrorsAndInlineGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyJSONHandler(&buf, nil))
	logger.Info("oracle failed", "err", errors.New("session closed"), slog.Group("", "game", "g1"), slog.Group("empty"))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, buf.String())
	}
	if got["err"] != "session closed" {
		t.Fatalf("err=%v", got["err"])
	}
	if got["game"] != "g1" {
		t.Fatalf("inline group not flattened: %v", got)
	}
	if _, ok := got["empty"]; ok {
		t.Fatalf("empty group written: %v", got)
	}
}
