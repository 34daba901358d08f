package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"colabsfm/internal/config"
	"colabsfm/internal/logging"
	"colabsfm/internal/services"
)

func TestNewFromConfigWritesStateLog(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon starting")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, "colabsfmd.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon starting") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	noColor := false
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, Color: &noColor})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "ingest").Info("stored image", logging.String("filename", "a b.jpg"), logging.Int("count", 2))
	logger.Debug("hidden")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{" INFO ingest: stored image", `filename="a b.jpg"`, "count=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerPrefixesRegionAndJobKind(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	noColor := false
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, Color: &noColor})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRegion(context.Background(), "north")
	ctx = services.WithJob(ctx, "job-7", "extract")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "jobs")).Info("job finished")
	logging.WithContext(services.WithRegion(context.Background(), "south"), logger).Info("region initialized")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", content)
	}
	if !strings.Contains(lines[0], " INFO jobs[north/extract]: job finished") || !strings.Contains(lines[0], "job_id=job-7") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if strings.Contains(lines[0], "region=") || strings.Contains(lines[0], "job_kind=") {
		t.Fatalf("prefix fields should not repeat as key/values: %q", lines[0])
	}
	if !strings.Contains(lines[1], " INFO [south]: region initialized") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRegion(context.Background(), "north")
	ctx = services.WithJob(ctx, "job-7", "reconstruct")
	ctx = services.WithRequestID(ctx, "req-1")
	logging.WarnWithContext(logging.WithContext(ctx, logger), "mapper failed", "colmap_failed", logging.Error(errors.New("exit status 1")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	want := map[string]string{
		"level":      "warn",
		"region":     "north",
		"job_id":     "job-7",
		"job_kind":   "reconstruct",
		"request_id": "req-1",
		"event_type": "colmap_failed",
		"error_hint": "inspect the colmap output tail and the region images",
		"error":      "exit status 1",
	}
	for key, value := range want {
		if got, _ := entry[key].(string); got != value {
			t.Fatalf("field %s = %q, want %q (entry %v)", key, got, value, entry)
		}
	}
}

func TestDefaultHint(t *testing.T) {
	cases := map[string]string{
		"colmap_failed":          "inspect the colmap output tail and the region images",
		"job_claim":              "check the job queue database and worker logs",
		"archive_cleanup_failed": "remove the leftover files under the region directory by hand",
		"request_failed":         "check logs for details",
	}
	for event, want := range cases {
		if got := logging.DefaultHint(event); got != want {
			t.Fatalf("DefaultHint(%q) = %q, want %q", event, got, want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewComponentLogger(nil, "test")
	logger.Error("dropped")
	if logger.Enabled(context.Background(), 8) {
		t.Fatal("expected nop logger to be disabled")
	}
}
