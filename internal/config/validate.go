package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateColmap(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateMaintenance(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.RootDir == "" {
		return errors.New("paths.root_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q is not host:port: %w", c.API.Bind, err)
	}
	return nil
}

func (c *Config) validateColmap() error {
	for key, value := range map[string]string{
		"colmap.images_dir":    c.Colmap.ImagesDir,
		"colmap.sparse_dir":    c.Colmap.SparseDir,
		"colmap.database_file": c.Colmap.DatabaseFile,
	} {
		if strings.ContainsAny(value, `/\`) || value == "." || value == ".." || filepath.Base(value) != value {
			return fmt.Errorf("%s must be a single path segment, got %q", key, value)
		}
	}
	if c.Colmap.ImagesDir == c.Colmap.SparseDir {
		return errors.New("colmap.images_dir and colmap.sparse_dir must differ")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case BackendSQLite:
	case BackendRedis:
		if _, _, err := net.SplitHostPort(c.Queue.RedisAddr); err != nil {
			return fmt.Errorf("queue.redis_addr %q is not host:port: %w", c.Queue.RedisAddr, err)
		}
		if c.Queue.RedisDB < 0 {
			return errors.New("queue.redis_db must be non-negative")
		}
	default:
		return fmt.Errorf("queue.backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.Queue.Backend)
	}
	if c.Queue.Workers > 64 {
		return errors.New("queue.workers must be at most 64")
	}
	return nil
}

func (c *Config) validateMaintenance() error {
	if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
		return fmt.Errorf("maintenance.schedule %q: %w", c.Maintenance.Schedule, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
