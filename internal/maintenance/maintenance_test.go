package maintenance_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"colabsfm/internal/ingest"
	"colabsfm/internal/jobs"
	"colabsfm/internal/logging"
	"colabsfm/internal/maintenance"
	"colabsfm/internal/region"
	"colabsfm/internal/testsupport"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestCleanStaleArchivesRemovesOnlyOldArchives(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	layout := region.NewLayout(cfg)
	paths, err := layout.Create("alpha")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := filepath.Join(paths.Dir, ingest.ArchivePrefix+"abc-batch.zip")
	fresh := filepath.Join(paths.Dir, ingest.ArchivePrefix+"def-batch.zip")
	other := filepath.Join(paths.Dir, "notes.txt")
	leftover := filepath.Join(paths.Images, ingest.ExtractionPrefix+"old")
	writeAged(t, stale, 48*time.Hour)
	writeAged(t, fresh, time.Minute)
	writeAged(t, other, 48*time.Hour)
	if err := os.MkdirAll(leftover, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result := maintenance.CleanStaleArchives(context.Background(), layout, 24*time.Hour, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors %+v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != stale {
		t.Fatalf("expected only %s removed, got %v", stale, result.Removed)
	}
	for _, keep := range []string{fresh, other, leftover} {
		if _, err := os.Stat(keep); err != nil {
			t.Fatalf("expected %s to remain: %v", keep, err)
		}
	}
}

func TestCleanStaleArchivesWithoutRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.RootDir = filepath.Join(t.TempDir(), "missing")
	result := maintenance.CleanStaleArchives(context.Background(), region.NewLayout(cfg), time.Hour, logging.NewNop())
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

type failingPruner struct{}

func (failingPruner) Prune(context.Context, time.Time) (int64, error) {
	return 0, errors.New("queue offline")
}

type recordingPruner struct {
	before time.Time
}

func (p *recordingPruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return 3, nil
}

func TestRunOncePrunesWithRetentionCutoff(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.RetentionHours = 2
	pruner := &recordingPruner{}
	s, err := maintenance.New(cfg, region.NewLayout(cfg), pruner, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := s.RunOnce(context.Background())
	if report.PrunedJobs != 3 {
		t.Fatalf("expected pruner count passed through, got %d", report.PrunedJobs)
	}
	age := time.Since(pruner.before)
	if age < 2*time.Hour || age > 2*time.Hour+time.Minute {
		t.Fatalf("unexpected prune cutoff age %v", age)
	}

	failing, err := maintenance.New(cfg, region.NewLayout(cfg), failingPruner{}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if report := failing.RunOnce(context.Background()); report.PrunedJobs != 0 {
		t.Fatalf("unexpected prune count %d", report.PrunedJobs)
	}
}

func TestRunOnceAgainstQueueKeepsFreshJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, jobs.Spec{Kind: jobs.KindExtract, Region: "alpha"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, _ := q.Claim(ctx, "w1")
	if err := q.Finish(ctx, claimed, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	s, err := maintenance.New(cfg, region.NewLayout(cfg), q, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if report := s.RunOnce(ctx); report.PrunedJobs != 0 {
		t.Fatalf("fresh job should survive retention, pruned %d", report.PrunedJobs)
	}
	if _, err := q.Get(ctx, job.ID); err != nil {
		t.Fatalf("job should still exist: %v", err)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Maintenance.Schedule = "every other tuesday"
	if _, err := maintenance.New(cfg, region.NewLayout(cfg), nil, logging.NewNop()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, err := maintenance.New(cfg, region.NewLayout(cfg), nil, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()
}
