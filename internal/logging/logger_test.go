package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subtrans/internal/logging"
	"subtrans/internal/services"
)

func TestNewConsoleWritesComponentPrefix(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.log")

	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "scheduler").Info("worker started", logging.Int64("task_id", 7))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "INFO scheduler: worker started") {
		t.Fatalf("unexpected log line: %q", line)
	}
	if !strings.Contains(line, "task_id=7") {
		t.Fatalf("expected task_id attribute in %q", line)
	}
}

func TestNewJSONRemapsKeys(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.json")

	logger, err := logging.New(logging.Options{Level: "info", Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, key := range []string{`"ts"`, `"level":"info"`, `"msg":"hello"`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected %s in %q", key, string(data))
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "ctx.log")

	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithTaskID(context.Background(), 12)
	ctx = services.WithStage(ctx, "translating")
	logging.WithContext(ctx, logger).Info("chunk done")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "task_id=12") || !strings.Contains(line, "stage=translating") {
		t.Fatalf("context fields missing from %q", line)
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := logging.NewProgressSampler(5)
	if !s.ShouldLog(0, "translating") {
		t.Fatal("first event should log")
	}
	if s.ShouldLog(3, "translating") {
		t.Fatal("3% is inside the first bucket")
	}
	if !s.ShouldLog(5, "translating") {
		t.Fatal("5% crosses a bucket boundary")
	}
	if !s.ShouldLog(5, "assembling") {
		t.Fatal("stage change should log")
	}
	s.Reset()
	if !s.ShouldLog(5, "assembling") {
		t.Fatal("reset should clear state")
	}
}
