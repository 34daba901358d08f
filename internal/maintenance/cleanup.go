package maintenance

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"colabsfm/internal/ingest"
	"colabsfm/internal/logging"
	"colabsfm/internal/region"
)

// CleanupResult contains the outcome of a stale archive sweep.
type CleanupResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStaleArchives removes temporary upload archives older than maxAge from
// every region directory. Extraction trees are never touched since they may
// hold non-image files that were deliberately left in place.
func CleanStaleArchives(ctx context.Context, layout *region.Layout, maxAge time.Duration, logger *slog.Logger) CleanupResult {
	result := CleanupResult{}
	if layout == nil {
		return result
	}

	names, err := layout.List()
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: layout.Root, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, name := range names {
		if ctx.Err() != nil {
			return result
		}
		dir := layout.Paths(name).Dir
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), ingest.ArchivePrefix) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				logging.WarnWithContext(logger, "failed to remove stale upload archive", "archive_cleanup_failed",
					logging.String(logging.FieldRegion, name),
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check permissions under the project root"),
				)
				continue
			}
			result.Removed = append(result.Removed, path)
			if logger != nil {
				logger.Info("removed stale upload archive",
					logging.String(logging.FieldRegion, name),
					logging.String("path", path),
					logging.Duration("age", time.Since(info.ModTime())),
					logging.String(logging.FieldEventType, "archive_cleanup"),
				)
			}
		}
	}
	return result
}
