package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"colabsfm/internal/api"
	"colabsfm/internal/config"
	"colabsfm/internal/deps"
	"colabsfm/internal/jobs"
	"colabsfm/internal/logging"
	"colabsfm/internal/maintenance"
	"colabsfm/internal/metrics"
	"colabsfm/internal/region"
)

// Components are the collaborators a daemon drives.
type Components struct {
	Service   *api.Service
	Layout    *region.Layout
	Broker    jobs.Broker
	Pool      *jobs.Pool
	Scheduler *maintenance.Scheduler
	Metrics   *metrics.Metrics
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components
	server *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || comps.Service == nil || comps.Broker == nil || comps.Pool == nil {
		return nil, errors.New("daemon requires config, service, broker, and worker pool")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comps:    comps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.server = server
	return d, nil
}

// Start acquires the daemon lock and launches the pool, the maintenance
// scheduler, and the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another colabsfm daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.comps.Pool.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if d.comps.Scheduler != nil {
		d.comps.Scheduler.Start(runCtx)
	}
	if err := d.server.start(runCtx); err != nil {
		if d.comps.Scheduler != nil {
			d.comps.Scheduler.Stop()
		}
		d.comps.Pool.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("colabsfm daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.addr()),
		logging.String("queue_backend", d.cfg.Queue.Backend),
		logging.Int("workers", d.comps.Pool.Workers()),
	)
	return nil
}

// Stop shuts the HTTP server, scheduler, and pool down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	if d.comps.Scheduler != nil {
		d.comps.Scheduler.Stop()
	}
	d.comps.Pool.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("colabsfm daemon stopped")
}

// Close stops the daemon and releases the broker.
func (d *Daemon) Close() error {
	d.Stop()
	if d.comps.Broker != nil {
		return d.comps.Broker.Close()
	}
	return nil
}

// Addr returns the address the HTTP server listens on, empty before Start.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Handler exposes the HTTP routes without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.server.handler
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		RootDir:      d.cfg.Paths.RootDir,
		QueueBackend: d.cfg.Queue.Backend,
		Workers:      d.comps.Pool.Workers(),
	}
	status.UptimeSeconds = api.Uptime(d.startedAt, time.Now())

	if free, err := deps.FreeBytes(d.cfg.Paths.RootDir); err == nil {
		status.FreeBytes = free
	} else {
		d.logger.Debug("free space unavailable", logging.Error(err))
	}

	for _, dep := range deps.Check(deps.Requirements(d.cfg)) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:      dep.Name,
			Command:   dep.Target,
			Available: dep.Available,
			Detail:    dep.Detail,
		})
	}

	if stats, err := d.comps.Broker.Stats(ctx); err == nil {
		status.QueueStats = api.MergeQueueStats(stats)
	} else {
		logging.WarnWithContext(d.logger, "queue stats unavailable", "queue_stats_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job queue backend"),
		)
	}
	return status
}
