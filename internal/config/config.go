package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the storage roots.
type Paths struct {
	RootDir  string `toml:"root_dir"`
	StateDir string `toml:"state_dir"`
}

// API contains the HTTP listener configuration.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Colmap contains the reconstruction binary invocation and region tree names.
type Colmap struct {
	Binary       string `toml:"binary"`
	CameraType   string `toml:"camera_type"`
	ImagesDir    string `toml:"images_dir"`
	SparseDir    string `toml:"sparse_dir"`
	DatabaseFile string `toml:"database_file"`
}

// Queue selects and tunes the asynchronous job backend.
type Queue struct {
	Backend        string `toml:"backend"`
	Workers        int    `toml:"workers"`
	PollIntervalMs int    `toml:"poll_interval_ms"`
	RetentionHours int    `toml:"retention_hours"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	RedisPrefix    string `toml:"redis_prefix"`
}

// Ingest contains upload and archive limits.
type Ingest struct {
	ImageExtensions     []string `toml:"image_extensions"`
	DefaultUploader     string   `toml:"default_uploader"`
	MaxUploadBytes      int64    `toml:"max_upload_bytes"`
	ArchiveMaxFiles     int      `toml:"archive_max_files"`
	ArchiveMaxFileBytes int64    `toml:"archive_max_file_bytes"`
	CaptureEXIF         bool     `toml:"capture_exif"`
}

// Maintenance contains the housekeeping schedule.
type Maintenance struct {
	Schedule          string `toml:"schedule"`
	StaleArchiveHours int    `toml:"stale_archive_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for colabsfm.
//
// Configuration sections by subsystem:
//   - Paths: project root holding region trees, daemon state directory
//   - API: HTTP bind address and optional bearer token
//   - Colmap: reconstruction binary, camera model code, region tree names
//   - Queue: job backend (sqlite or redis) and worker pool size
//   - Ingest: recognised image extensions and upload limits
//   - Maintenance: cron schedule for job pruning and temp archive sweeps
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	API         API         `toml:"api"`
	Colmap      Colmap      `toml:"colmap"`
	Queue       Queue       `toml:"queue"`
	Ingest      Ingest      `toml:"ingest"`
	Maintenance Maintenance `toml:"maintenance"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("colabsfm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RootDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath is the sqlite file holding upload records.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, ledgerFileName)
}

// QueuePath is the sqlite file backing the durable job queue.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.StateDir, queueFileName)
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, lockFileName)
}

// PollInterval returns the worker poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMs) * time.Millisecond
}

// Retention returns how long finished jobs are kept before pruning.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Queue.RetentionHours) * time.Hour
}

// StaleArchiveAge returns the age after which leftover upload archives are removed.
func (c *Config) StaleArchiveAge() time.Duration {
	return time.Duration(c.Maintenance.StaleArchiveHours) * time.Hour
}

// ReservedNames lists root-level entries a region name must never shadow.
func (c *Config) ReservedNames() []string {
	names := []string{ledgerFileName, queueFileName, lockFileName}
	out := make([]string, 0, len(names)*3)
	for _, name := range names {
		out = append(out, name, name+"-wal", name+"-shm")
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
