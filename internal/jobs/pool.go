package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"colabsfm/internal/logging"
	"colabsfm/internal/services"
)

const maxBackoff = 30 * time.Second

// Observer receives job lifecycle events. metrics.Metrics implements it.
type Observer interface {
	JobStarted(kind string)
	JobFinished(kind, status string, elapsed time.Duration)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers      int
	PollInterval time.Duration
	Observer     Observer
}

// Pool runs workers that claim and execute jobs.
type Pool struct {
	broker   Broker
	registry *Registry
	workers  int
	poll     time.Duration
	observer Observer
	logger   *slog.Logger

	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a pool. It does not start any workers.
func NewPool(broker Broker, registry *Registry, opts PoolOptions, logger *slog.Logger) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Pool{
		broker:   broker,
		registry: registry,
		workers:  workers,
		poll:     poll,
		observer: opts.Observer,
		logger:   logging.NewComponentLogger(logger, "jobs"),
		wake:     make(chan struct{}, 1),
	}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Start fails jobs interrupted by a previous run and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pool already running")
	}

	recovered, err := p.broker.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		logging.WarnWithContext(p.logger, "interrupted jobs marked failed", "job_recovery",
			logging.Int64("count", recovered),
			logging.String(logging.FieldErrorHint, "re-trigger the affected regions"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for i := 0; i < p.workers; i++ {
		name := fmt.Sprintf("worker-%d", i+1)
		p.wg.Add(1)
		go p.loop(runCtx, name)
	}
	p.logger.Info("worker pool started", logging.Int("workers", p.workers))
	return nil
}

// Stop cancels the workers and waits for them. Running jobs observe the
// cancellation and are recorded as failed.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Notify wakes an idle worker after new work was enqueued.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) loop(ctx context.Context, name string) {
	defer p.wg.Done()
	var backoff time.Duration
	for {
		ran, err := p.RunOnce(ctx, name)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			backoff = nextBackoff(backoff, p.poll)
			logging.WarnWithContext(p.logger, "job claim failed", "job_claim",
				logging.String("worker", name),
				logging.Error(err),
				logging.Duration("retry_in", backoff),
				logging.String(logging.FieldErrorHint, "check the job queue backend"),
			)
			if !p.wait(ctx, backoff) {
				return
			}
			continue
		}
		backoff = 0
		if ran {
			continue
		}
		if !p.wait(ctx, p.poll) {
			return
		}
	}
}

func (p *Pool) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.wake:
		return true
	case <-timer.C:
		return true
	}
}

func nextBackoff(current, base time.Duration) time.Duration {
	if current <= 0 {
		return base
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// RunOnce claims and runs at most one job. It reports whether a job ran.
// Handler failures are recorded on the job, not returned.
func (p *Pool) RunOnce(ctx context.Context, worker string) (bool, error) {
	job, err := p.broker.Claim(ctx, worker)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobCtx := services.WithRegion(ctx, job.Region)
	jobCtx = services.WithJob(jobCtx, job.ID, string(job.Kind))
	logger := logging.WithContext(jobCtx, p.logger).With(logging.String("worker", worker))
	logger.Info("job started", logging.Int64("seq", job.Seq))
	if p.observer != nil {
		p.observer.JobStarted(string(job.Kind))
	}

	start := time.Now()
	runErr := p.execute(jobCtx, job)
	elapsed := time.Since(start)

	// The outcome must be recorded even when the pool is stopping.
	if err := p.broker.Finish(context.WithoutCancel(ctx), job, runErr); err != nil {
		logging.ErrorWithContext(logger, "job outcome not recorded", "job_finish",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job queue backend"),
		)
	}
	if p.observer != nil {
		p.observer.JobFinished(string(job.Kind), string(finalStatus(runErr)), elapsed)
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(runErr),
			logging.String("error_kind", services.Kind(runErr)),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, "inspect the job error and re-trigger the region"),
		)
		return true, nil
	}
	logger.Info("job completed", logging.Duration("elapsed", elapsed))
	return true, nil
}

func (p *Pool) execute(ctx context.Context, job *Job) (err error) {
	handler, ok := p.registry.Lookup(job.Kind)
	if !ok {
		return services.Wrap(services.ErrConfiguration, "jobs", "dispatch", fmt.Sprintf("no handler for kind %q", job.Kind), nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}
