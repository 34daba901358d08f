package api

import "time"

// Messages returned in acknowledgments.
const (
	MessageRegionInitialized   = "Region initialized"
	MessageImagesUploaded      = "Images uploaded and feature extraction started"
	MessageArchiveUploaded     = "Zip uploaded, images extracted, and feature extraction started"
	MessageReconstructionStart = "Reconstruction started"
)

// Ack acknowledges an accepted operation.
type Ack struct {
	Region    string   `json:"region_name"`
	Message   string   `json:"message"`
	OutputDir string   `json:"output_dir,omitempty"`
	JobID     string   `json:"job_id,omitempty"`
	Files     []string `json:"files,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Upload is one ledger row in transport form.
type Upload struct {
	Filename  string `json:"filename"`
	UserID    string `json:"user_id"`
	Region    string `json:"region_name"`
	Camera    string `json:"camera,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at,omitempty"`
}

// RegionSummary lists one region with its upload count.
type RegionSummary struct {
	Name    string `json:"region_name"`
	Uploads int    `json:"uploads"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	PID           int                `json:"pid"`
	StartedAt     time.Time          `json:"started_at"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	RootDir       string             `json:"root_dir"`
	FreeBytes     uint64             `json:"free_bytes"`
	QueueBackend  string             `json:"queue_backend"`
	Workers       int                `json:"workers"`
	QueueStats    map[string]int     `json:"queue_stats,omitempty"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}
