package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"colabsfm/internal/jobs"
	"colabsfm/internal/logging"
	"colabsfm/internal/services"
	"colabsfm/internal/testsupport"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  map[string]int
	finished map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{started: map[string]int{}, finished: map[string]int{}}
}

func (o *recordingObserver) JobStarted(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[kind]++
}

func (o *recordingObserver) JobFinished(kind, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[kind+"/"+status]++
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	registry := jobs.NewRegistry()
	var sawRegion, sawJob string
	registry.Register(jobs.KindExtract, jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		sawRegion, _ = services.RegionFromContext(ctx)
		sawJob, _, _ = services.JobFromContext(ctx)
		return nil
	}))
	registry.Register(jobs.KindReconstruct, jobs.HandlerFunc(func(context.Context, *jobs.Job) error {
		return services.Wrap(services.ErrExternalProcess, "colmap", "mapper", "exit status 3", nil)
	}))
	observer := newRecordingObserver()
	pool := jobs.NewPool(q, registry, jobs.PoolOptions{Workers: 1, Observer: observer}, logging.NewNop())

	extract := enqueue(t, q, jobs.KindExtract, "alpha")
	reconstruct := enqueue(t, q, jobs.KindReconstruct, "alpha")

	for i := 0; i < 2; i++ {
		ran, err := pool.RunOnce(ctx, "w1")
		if err != nil || !ran {
			t.Fatalf("RunOnce #%d: ran=%v err=%v", i, ran, err)
		}
	}
	if ran, err := pool.RunOnce(ctx, "w1"); err != nil || ran {
		t.Fatalf("expected idle RunOnce, ran=%v err=%v", ran, err)
	}

	if sawRegion != "alpha" || sawJob != extract.ID {
		t.Fatalf("handler context missing job fields: region=%q job=%q", sawRegion, sawJob)
	}
	got, _ := q.Get(ctx, extract.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed extract, got %s", got.Status)
	}
	got, _ = q.Get(ctx, reconstruct.ID)
	if got.Status != jobs.StatusFailed || got.Error == "" {
		t.Fatalf("expected failed reconstruct with error, got %+v", got)
	}
	if observer.finished["extract/completed"] != 1 || observer.finished["reconstruct/failed"] != 1 {
		t.Fatalf("unexpected observer counts: %v", observer.finished)
	}
}

func TestRunOnceFailsUnknownKindAndPanics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	registry := jobs.NewRegistry()
	registry.Register(jobs.KindExtract, jobs.HandlerFunc(func(context.Context, *jobs.Job) error {
		panic("boom")
	}))
	pool := jobs.NewPool(q, registry, jobs.PoolOptions{}, logging.NewNop())

	panicking := enqueue(t, q, jobs.KindExtract, "alpha")
	unknown := enqueue(t, q, jobs.Kind("mesh"), "beta")
	for i := 0; i < 2; i++ {
		if _, err := pool.RunOnce(ctx, "w1"); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	for _, id := range []string{panicking.ID, unknown.ID} {
		job, err := q.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status != jobs.StatusFailed {
			t.Fatalf("expected job %s failed, got %s", job.Kind, job.Status)
		}
	}
}

func TestPoolKeepsRegionOrderAcrossWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)

	var (
		mu      sync.Mutex
		order   = map[string][]string{}
		active  = map[string]int{}
		overlap bool
	)
	handler := jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		mu.Lock()
		active[job.Region]++
		if active[job.Region] > 1 {
			overlap = true
		}
		order[job.Region] = append(order[job.Region], job.ID)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active[job.Region]--
		mu.Unlock()
		return nil
	})
	registry := jobs.NewRegistry()
	registry.Register(jobs.KindExtract, handler)
	registry.Register(jobs.KindReconstruct, handler)

	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, enqueue(t, q, jobs.KindExtract, "alpha").ID)
	}
	want = append(want, enqueue(t, q, jobs.KindReconstruct, "alpha").ID)
	enqueue(t, q, jobs.KindExtract, "beta")
	enqueue(t, q, jobs.KindReconstruct, "beta")

	pool := jobs.NewPool(q, registry, jobs.PoolOptions{Workers: 4, PollInterval: 5 * time.Millisecond}, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pool.Notify()

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err := q.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[jobs.StatusCompleted] == 6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not complete in time: %v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatal("jobs for one region overlapped")
	}
	if len(order["alpha"]) != len(want) {
		t.Fatalf("expected %d alpha jobs, got %d", len(want), len(order["alpha"]))
	}
	for i, id := range want {
		if order["alpha"][i] != id {
			t.Fatalf("alpha job %d ran out of order", i)
		}
	}
}

func TestPoolStartRecoversInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	q := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	job := enqueue(t, q, jobs.KindExtract, "alpha")
	if _, err := q.Claim(ctx, "crashed"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	pool := jobs.NewPool(q, jobs.NewRegistry(), jobs.PoolOptions{PollInterval: time.Hour}, logging.NewNop())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	pool.Stop()
	pool.Stop()

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.StatusFailed || got.Error != jobs.InterruptedReason {
		t.Fatalf("expected interrupted job failed, got %+v", got)
	}
}

func TestRegistryKindsSorted(t *testing.T) {
	registry := jobs.NewRegistry()
	noop := jobs.HandlerFunc(func(context.Context, *jobs.Job) error { return nil })
	registry.Register(jobs.KindReconstruct, noop)
	registry.Register(jobs.KindExtract, noop)
	registry.Register(jobs.Kind("ignored"), nil)

	kinds := registry.Kinds()
	if len(kinds) != 2 || kinds[0] != jobs.KindExtract || kinds[1] != jobs.KindReconstruct {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	if _, ok := registry.Lookup(jobs.Kind("ignored")); ok {
		t.Fatal("nil handler should not register")
	}
}
