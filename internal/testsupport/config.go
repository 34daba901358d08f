package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"colabsfm/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RootDir = filepath.Join(base, "projects")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Queue.PollIntervalMs = 10
	cfgVal.Ingest.CaptureEXIF = true

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPIToken sets the bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Workers = n
	}
}

// WithMaxUploadBytes caps per-call upload size.
func WithMaxUploadBytes(n int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.MaxUploadBytes = n
	}
}

// WithDefaultUploader sets the uploader recorded when requests carry none.
func WithDefaultUploader(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.DefaultUploader = name
	}
}

// WithStubbedColmap writes a colmap stand-in that appends each invocation's
// arguments to CallLog(cfg) and exits with status 3 when its first argument
// equals failOn. The config's colmap binary points at the stub.
func WithStubbedColmap(failOn string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		logPath := filepath.Join(b.baseDir, "colmap-calls.log")
		var script strings.Builder
		script.WriteString("#!/bin/sh\n")
		fmt.Fprintf(&script, "echo \"$@\" >> %q\n", logPath)
		if failOn != "" {
			fmt.Fprintf(&script, "if [ \"$1\" = %q ]; then echo \"$1 failed\" >&2; exit 3; fi\n", failOn)
		}
		script.WriteString("echo \"$1 done\"\nexit 0\n")
		target := filepath.Join(binDir, "colmap")
		if err := os.WriteFile(target, []byte(script.String()), 0o755); err != nil {
			b.t.Fatalf("write colmap stub: %v", err)
		}
		b.cfg.Colmap.Binary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// CallLog returns the path the colmap stub appends invocations to.
func CallLog(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "colmap-calls.log")
}

// ReadCalls returns the recorded colmap invocations, one per line.
func ReadCalls(t testing.TB, cfg *config.Config) []string {
	t.Helper()
	data, err := os.ReadFile(CallLog(cfg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read colmap call log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
