package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeColmap()
	c.normalizeQueue()
	c.normalizeIngest()
	c.normalizeMaintenance()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RootDir) == "" {
		c.Paths.RootDir = defaultRootDir
	}
	if c.Paths.RootDir, err = expandPath(strings.TrimSpace(c.Paths.RootDir)); err != nil {
		return fmt.Errorf("paths.root_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("COLABSFM_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeColmap() {
	c.Colmap.Binary = strings.TrimSpace(c.Colmap.Binary)
	if c.Colmap.Binary == "" {
		c.Colmap.Binary = defaultColmapBinary
	}
	c.Colmap.CameraType = strings.TrimSpace(c.Colmap.CameraType)
	if c.Colmap.CameraType == "" {
		c.Colmap.CameraType = defaultCameraType
	}
	c.Colmap.ImagesDir = strings.TrimSpace(c.Colmap.ImagesDir)
	if c.Colmap.ImagesDir == "" {
		c.Colmap.ImagesDir = defaultImagesDir
	}
	c.Colmap.SparseDir = strings.TrimSpace(c.Colmap.SparseDir)
	if c.Colmap.SparseDir == "" {
		c.Colmap.SparseDir = defaultSparseDir
	}
	c.Colmap.DatabaseFile = strings.TrimSpace(c.Colmap.DatabaseFile)
	if c.Colmap.DatabaseFile == "" {
		c.Colmap.DatabaseFile = defaultDatabaseFile
	}
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = defaultQueueWorkers
	}
	if c.Queue.PollIntervalMs <= 0 {
		c.Queue.PollIntervalMs = defaultPollIntervalMs
	}
	if c.Queue.RetentionHours <= 0 {
		c.Queue.RetentionHours = defaultRetentionHours
	}
	c.Queue.RedisAddr = strings.TrimSpace(c.Queue.RedisAddr)
	if c.Queue.RedisAddr == "" {
		c.Queue.RedisAddr = defaultRedisAddr
	}
	if c.Queue.RedisPassword == "" {
		if value, ok := os.LookupEnv("COLABSFM_REDIS_PASSWORD"); ok {
			c.Queue.RedisPassword = value
		}
	}
	c.Queue.RedisPrefix = strings.Trim(strings.TrimSpace(c.Queue.RedisPrefix), ":")
	if c.Queue.RedisPrefix == "" {
		c.Queue.RedisPrefix = defaultRedisPrefix
	}
}

func (c *Config) normalizeIngest() {
	exts := make([]string, 0, len(c.Ingest.ImageExtensions))
	seen := make(map[string]struct{}, len(c.Ingest.ImageExtensions))
	for _, ext := range c.Ingest.ImageExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = Default().Ingest.ImageExtensions
	}
	c.Ingest.ImageExtensions = exts
	c.Ingest.DefaultUploader = strings.TrimSpace(c.Ingest.DefaultUploader)
	if c.Ingest.DefaultUploader == "" {
		c.Ingest.DefaultUploader = defaultUploader
	}
	if c.Ingest.ArchiveMaxFiles < 0 {
		c.Ingest.ArchiveMaxFiles = 0
	}
	if c.Ingest.ArchiveMaxFileBytes < 0 {
		c.Ingest.ArchiveMaxFileBytes = 0
	}
	if c.Ingest.MaxUploadBytes < 0 {
		c.Ingest.MaxUploadBytes = 0
	}
}

func (c *Config) normalizeMaintenance() {
	c.Maintenance.Schedule = strings.TrimSpace(c.Maintenance.Schedule)
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = defaultMaintenanceSchedule
	}
	if c.Maintenance.StaleArchiveHours <= 0 {
		c.Maintenance.StaleArchiveHours = defaultStaleArchiveHours
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
