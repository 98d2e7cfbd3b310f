package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesConsoleFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telbill.log")
	logger, err := New(Options{Level: "info", Format: "console", OutputPaths: []string{path}, ErrorOutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("process created",
		String(FieldPeriod, "2026-08"),
		Int64(FieldProcessID, 42),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "process created") {
		t.Fatalf("message missing: %q", line)
	}
	if !strings.Contains(line, FieldPeriod+"=2026-08") || !strings.Contains(line, FieldProcessID+"=42") {
		t.Fatalf("fields missing: %q", line)
	}
	if !strings.Contains(line, "INFO") {
		t.Fatalf("level label missing: %q", line)
	}
}

func TestNewWritesJSONFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telbill.log")
	logger, err := New(Options{Level: "debug", Format: "json", OutputPaths: []string{path}, ErrorOutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Error("dispatch failed", Error(errors.New("broker unreachable")))

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("no log line written")
	}
	var entry map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("parse json line: %v", err)
	}
	if entry["msg"] != "dispatch failed" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry["error"] != "broker unreachable" {
		t.Fatalf("error field = %v", entry["error"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestContextFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithProcessID(ctx, 7)
	ctx = WithRegistration(ctx, "hash-1")
	ctx = WithPeriod(ctx, "2026-08")
	ctx = WithStage(ctx, "download")

	fields := ContextFields(ctx)
	got := make(map[string]string, len(fields))
	for _, attr := range fields {
		got[attr.Key] = attr.Value.String()
	}
	if got[FieldProcessID] != "7" || got[FieldRegistration] != "hash-1" {
		t.Fatalf("fields = %+v", got)
	}
	if got[FieldPeriod] != "2026-08" || got[FieldStage] != "download" {
		t.Fatalf("fields = %+v", got)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should be disabled at every level")
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if parseLevel("bogus") != slog.LevelInfo {
		t.Fatal("unknown level should fall back to info")
	}
	if parseLevel("warn") != slog.LevelWarn {
		t.Fatal("warn should parse")
	}
}
