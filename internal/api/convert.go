package api

import (
	"time"

	"colabsfm/internal/ingest"
	"colabsfm/internal/jobs"
	"colabsfm/internal/ledger"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FromRecord converts a ledger row.
func FromRecord(rec ledger.Record) Upload {
	upload := Upload{
		Filename:  rec.Filename,
		UserID:    rec.UserID,
		Region:    rec.Region,
		Camera:    rec.Camera,
		SizeBytes: rec.SizeBytes,
	}
	if !rec.CreatedAt.IsZero() {
		upload.CreatedAt = rec.CreatedAt.UTC().Format(dateTimeFormat)
	}
	return upload
}

// FromRecords converts ledger rows, always returning a non-nil slice.
func FromRecords(records []ledger.Record) []Upload {
	out := make([]Upload, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// MergeQueueStats converts broker stats to string keys.
func MergeQueueStats(stats map[jobs.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

func storedNames(result ingest.Result) []string {
	names := make([]string, 0, len(result.Files))
	for _, file := range result.Files {
		names = append(names, file.Stored)
	}
	return names
}

// Uptime returns whole seconds elapsed since started.
func Uptime(started, now time.Time) int64 {
	if started.IsZero() || now.Before(started) {
		return 0
	}
	return int64(now.Sub(started) / time.Second)
}
