package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"colabsfm/internal/api"
	"colabsfm/internal/config"
	"colabsfm/internal/daemon"
	"colabsfm/internal/ingest"
	"colabsfm/internal/jobs"
	"colabsfm/internal/logging"
	"colabsfm/internal/metrics"
	"colabsfm/internal/pipeline"
	"colabsfm/internal/region"
	"colabsfm/internal/services/colmap"
	"colabsfm/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	addr       string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedColmap("")}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	layout := region.NewLayout(cfg)
	store := testsupport.MustOpenLedger(t, cfg)
	queue := testsupport.MustOpenQueue(t, cfg)
	m := metrics.New()
	client, err := colmap.New(cfg.Colmap.Binary, cfg.Colmap.CameraType)
	if err != nil {
		t.Fatalf("colmap.New: %v", err)
	}
	registry := jobs.NewRegistry()
	pipeline.Register(registry, client, logger)
	pool := jobs.NewPool(queue, registry, jobs.PoolOptions{Workers: 1, PollInterval: cfg.PollInterval()}, logger)
	service := api.NewService(api.Deps{
		Layout:     layout,
		Ingester:   ingest.NewEngine(layout, store, ingest.OptionsFromConfig(cfg), logger),
		Uploads:    store,
		Dispatcher: pipeline.NewDispatcher(queue, logger, pipeline.WithNotify(pool.Notify)),
		Metrics:    m,
		Logger:     logger,
	})

	d, err := daemon.New(cfg, logger, daemon.Components{
		Service: service,
		Layout:  layout,
		Broker:  queue,
		Pool:    pool,
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})

	return &cliTestEnv{cfg: cfg, daemon: d, configPath: configPath, addr: d.Addr()}
}

func runCLI(t *testing.T, args []string, addr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if addr != "" {
		flags = append(flags, "--addr", addr)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}
