package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"colabsfm/internal/api"
	"colabsfm/internal/config"
	"colabsfm/internal/daemon"
	"colabsfm/internal/deps"
	"colabsfm/internal/ingest"
	"colabsfm/internal/jobs"
	"colabsfm/internal/ledger"
	"colabsfm/internal/logging"
	"colabsfm/internal/maintenance"
	"colabsfm/internal/metrics"
	"colabsfm/internal/pipeline"
	"colabsfm/internal/region"
	"colabsfm/internal/services/colmap"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the colabsfm daemon and blocks until the context is cancelled
// or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.StateDir, "colabsfmd.log")},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)

	store, err := ledger.Open(signalCtx, cfg.LedgerPath())
	if err != nil {
		logger.Error("open upload ledger", logging.Error(err))
		return err
	}
	defer store.Close()

	broker, err := openBroker(signalCtx, cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open job broker", "broker_open_failed",
			logging.Error(err),
			logging.String("queue_backend", cfg.Queue.Backend),
			logging.String(logging.FieldErrorHint, "check queue.backend and, for redis, queue.redis_addr"),
		)
		return err
	}

	client, err := colmap.New(cfg.Colmap.Binary, cfg.Colmap.CameraType, colmap.WithLogger(logger))
	if err != nil {
		_ = broker.Close()
		return fmt.Errorf("colmap client: %w", err)
	}

	m := metrics.New()
	registry := jobs.NewRegistry()
	pipeline.Register(registry, client, logger)
	pool := jobs.NewPool(broker, registry, jobs.PoolOptions{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.PollInterval(),
		Observer:     m,
	}, logger)

	layout := region.NewLayout(cfg)
	service := api.NewService(api.Deps{
		Layout:     layout,
		Ingester:   ingest.NewEngine(layout, store, ingest.OptionsFromConfig(cfg), logger),
		Uploads:    store,
		Dispatcher: pipeline.NewDispatcher(broker, logger, pipeline.WithNotify(pool.Notify), pipeline.WithObserver(m)),
		Metrics:    m,
		Logger:     logger,
	})

	scheduler, err := maintenance.New(cfg, layout, broker, logger)
	if err != nil {
		_ = broker.Close()
		return fmt.Errorf("maintenance scheduler: %w", err)
	}

	d, err := daemon.New(cfg, logger, daemon.Components{
		Service:   service,
		Layout:    layout,
		Broker:    broker,
		Pool:      pool,
		Scheduler: scheduler,
		Metrics:   m,
	})
	if err != nil {
		_ = broker.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind and that no other colabsfmd holds the state directory"),
		)
		return err
	}

	// The pid file belongs to whoever holds the daemon lock.
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("colabsfm daemon shutting down")
	return nil
}

func openBroker(ctx context.Context, cfg *config.Config) (jobs.Broker, error) {
	switch cfg.Queue.Backend {
	case config.BackendRedis:
		broker, err := jobs.NewRedisBroker(ctx, jobs.RedisOptions{
			Addr:      cfg.Queue.RedisAddr,
			Password:  cfg.Queue.RedisPassword,
			DB:        cfg.Queue.RedisDB,
			Prefix:    cfg.Queue.RedisPrefix,
			Retention: cfg.Retention(),
		})
		if err != nil {
			return nil, err
		}
		return broker, nil
	default:
		queue, err := jobs.OpenQueue(ctx, cfg.QueuePath())
		if err != nil {
			return nil, err
		}
		return queue, nil
	}
}

// PIDPath is where a running daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "colabsfmd.pid")
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("queue_backend", cfg.Queue.Backend),
		logging.Int("workers", cfg.Queue.Workers),
		logging.String("camera_type", cfg.Colmap.CameraType),
	}
	statuses := deps.Check(deps.Requirements(cfg))
	for _, status := range statuses {
		key := strings.ReplaceAll(strings.ToLower(status.Name), " ", "_")
		attrs = append(attrs,
			logging.String(key+"_"+string(status.Kind), status.Target),
			logging.Bool(key+"_available", status.Available),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required dependencies missing", "dependency_missing",
			logging.String("missing", strings.Join(missing, ", ")),
		)
	}
}
