package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"colabsfm/internal/config"
	"colabsfm/internal/logging"
	"colabsfm/internal/region"
)

// Pruner deletes finished jobs. Both job brokers implement it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Report summarizes one maintenance run.
type Report struct {
	PrunedJobs int64
	Archives   CleanupResult
}

// Scheduler runs maintenance on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	layout    *region.Layout
	pruner    Pruner
	retention time.Duration
	staleAge  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	running bool
}

// New builds a scheduler from the maintenance section of cfg.
func New(cfg *config.Config, layout *region.Layout, pruner Pruner, logger *slog.Logger) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("maintenance requires configuration")
	}
	logger = logging.NewComponentLogger(logger, "maintenance")
	s := &Scheduler{
		layout:    layout,
		pruner:    pruner,
		retention: cfg.Retention(),
		staleAge:  cfg.StaleArchiveAge(),
		logger:    logger,
		ctx:       context.Background(),
	}
	cronLogger := cronLogAdapter{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(cfg.Maintenance.Schedule, s.scheduled); err != nil {
		return nil, fmt.Errorf("schedule maintenance %q: %w", cfg.Maintenance.Schedule, err)
	}
	return s, nil
}

// Start begins scheduled runs. Runs observe ctx for cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx = ctx
	s.running = true
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-flight run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) scheduled() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.RunOnce(ctx)
}

// RunOnce prunes jobs and sweeps stale archives immediately.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	start := time.Now()
	report := Report{}
	if s.pruner != nil && s.retention > 0 {
		pruned, err := s.pruner.Prune(ctx, start.Add(-s.retention))
		if err != nil {
			logging.WarnWithContext(s.logger, "job prune failed", "job_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the job queue backend"),
			)
		}
		report.PrunedJobs = pruned
	}
	if s.staleAge > 0 {
		report.Archives = CleanStaleArchives(ctx, s.layout, s.staleAge, s.logger)
	}
	s.logger.Info("maintenance run finished",
		logging.String(logging.FieldEventType, "maintenance_run"),
		logging.Int64("pruned_jobs", report.PrunedJobs),
		logging.Int("archives_removed", len(report.Archives.Removed)),
		logging.Int("errors", len(report.Archives.Errors)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return report
}

// cronLogAdapter routes robfig/cron's logger to slog.
type cronLogAdapter struct {
	logger *slog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error(msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
