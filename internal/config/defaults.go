package config

const (
	defaultConfigPath          = "~/.config/colabsfm/config.toml"
	defaultRootDir             = "~/.local/share/colabsfm/projects"
	defaultStateDir            = "~/.local/share/colabsfm"
	defaultAPIBind             = "127.0.0.1:8484"
	defaultColmapBinary        = "colmap"
	defaultCameraType          = "0"
	defaultImagesDir           = "images"
	defaultSparseDir           = "sparse"
	defaultDatabaseFile        = "database.db"
	defaultQueueBackend        = BackendSQLite
	defaultQueueWorkers        = 2
	defaultPollIntervalMs      = 1000
	defaultRetentionHours      = 168
	defaultRedisAddr           = "127.0.0.1:6379"
	defaultRedisPrefix         = "colabsfm"
	defaultUploader            = "unknown"
	defaultArchiveMaxFiles     = 100000
	defaultMaintenanceSchedule = "@every 1h"
	defaultStaleArchiveHours   = 24
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"

	ledgerFileName = "ledger.db"
	queueFileName  = "jobs.db"
	lockFileName   = "colabsfmd.lock"
)

// Queue backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RootDir:  defaultRootDir,
			StateDir: defaultStateDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Colmap: Colmap{
			Binary:       defaultColmapBinary,
			CameraType:   defaultCameraType,
			ImagesDir:    defaultImagesDir,
			SparseDir:    defaultSparseDir,
			DatabaseFile: defaultDatabaseFile,
		},
		Queue: Queue{
			Backend:        defaultQueueBackend,
			Workers:        defaultQueueWorkers,
			PollIntervalMs: defaultPollIntervalMs,
			RetentionHours: defaultRetentionHours,
			RedisAddr:      defaultRedisAddr,
			RedisPrefix:    defaultRedisPrefix,
		},
		Ingest: Ingest{
			ImageExtensions: []string{".jpg", ".jpeg", ".png"},
			DefaultUploader: defaultUploader,
			ArchiveMaxFiles: defaultArchiveMaxFiles,
			CaptureEXIF:     true,
		},
		Maintenance: Maintenance{
			Schedule:          defaultMaintenanceSchedule,
			StaleArchiveHours: defaultStaleArchiveHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
