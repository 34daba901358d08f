package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	getter "github.com/hashicorp/go-getter"

	"colabsfm/internal/fileutil"
	"colabsfm/internal/logging"
	"colabsfm/internal/services"
	"colabsfm/internal/textutil"
)

const (
	// ArchivePrefix names the saved upload archive in the region directory.
	// Maintenance removes stale leftovers matching it.
	ArchivePrefix = ".upload-"
	// ExtractionPrefix names the per-call extraction tree under images.
	// Skipped non-image entries stay there and maintenance leaves it alone.
	ExtractionPrefix = ".extract-"
)

// archiveFormats maps filename suffixes to go-getter decompressor keys.
// Longer suffixes come first so ".tar.gz" wins over ".gz".
var archiveFormats = []struct {
	suffix string
	key    string
}{
	{".tar.bz2", "tar.bz2"},
	{".tar.zst", "tar.zst"},
	{".tar.gz", "tar.gz"},
	{".tar.xz", "tar.xz"},
	{".tbz2", "tbz2"},
	{".tzst", "tzst"},
	{".tar", "tar"},
	{".tgz", "tgz"},
	{".txz", "txz"},
	{".zip", "zip"},
}

type archiveExtractor struct {
	decompressors map[string]getter.Decompressor
}

func newArchiveExtractor(filesLimit int, fileSizeLimit int64) *archiveExtractor {
	return &archiveExtractor{decompressors: getter.LimitedDecompressors(filesLimit, fileSizeLimit)}
}

// detect returns the decompressor for name, or ok=false when the suffix is
// not a supported archive format.
func (a *archiveExtractor) detect(name string) (getter.Decompressor, string, bool) {
	lower := strings.ToLower(name)
	for _, format := range archiveFormats {
		if !strings.HasSuffix(lower, format.suffix) {
			continue
		}
		d, ok := a.decompressors[format.key]
		return d, format.key, ok
	}
	return nil, "", false
}

// SupportedArchive reports whether name has a recognised archive suffix.
func (e *Engine) SupportedArchive(name string) bool {
	_, _, ok := e.archives.detect(name)
	return ok
}

// IngestArchive saves the archive inside the region directory, unpacks it
// below the images directory, and moves every recognised image flat into the
// images root under a token-prefixed name. Non-image entries are left in the
// extraction tree. Empty directories are pruned bottom-up and the saved
// archive is removed on every path once written.
func (e *Engine) IngestArchive(ctx context.Context, regionName, uploader string, archive Payload) (Result, error) {
	ctx = services.WithRegion(ctx, regionName)
	paths, err := e.layout.Require(regionName)
	if err != nil {
		return Result{}, err
	}
	logger := logging.WithContext(ctx, e.logger)

	if archive.Reader == nil {
		return Result{}, services.Wrap(services.ErrValidation, "ingest", "archive", "archive payload has no content", nil)
	}
	decompressor, format, ok := e.archives.detect(archive.Name)
	if !ok {
		return Result{}, services.Wrap(services.ErrExtraction, "ingest", "archive", fmt.Sprintf("unsupported archive format %q", archive.Name), nil)
	}

	token := e.token()
	archivePath := filepath.Join(paths.Dir, ArchivePrefix+token+"-"+textutil.BaseName(archive.Name, "archive"))
	if _, err := fileutil.WriteNew(archivePath, archive.Reader, e.opts.MaxUploadBytes); err != nil {
		_ = os.Remove(archivePath)
		if errors.Is(err, fileutil.ErrSizeLimit) {
			return Result{}, e.budgetError(err)
		}
		return Result{}, services.Wrap(services.ErrFilesystem, "ingest", "archive", "save archive", err)
	}
	defer func() {
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(logger, "temporary archive not removed", "archive_cleanup_failed",
				logging.String("path", archivePath),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "maintenance will sweep stale archives"),
			)
		}
	}()

	extractRoot := filepath.Join(paths.Images, ExtractionPrefix+token)
	if err := decompressor.Decompress(extractRoot, archivePath, true, 0o022); err != nil {
		return Result{}, services.Wrap(services.ErrExtraction, "ingest", "archive", fmt.Sprintf("unpack %s (%s)", archive.Name, format), err)
	}

	images, skipped, err := e.scanExtraction(extractRoot)
	if err != nil {
		return Result{}, err
	}

	batch, err := e.ledger.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = batch.Rollback() }()

	result := Result{Region: regionName, Paths: paths, Files: make([]StoredFile, 0, len(images)), Skipped: skipped}
	for _, src := range images {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		original := filepath.Base(src)
		stored := e.StoredName(original)
		dst := filepath.Join(paths.Images, stored)
		info, err := os.Stat(src)
		if err != nil {
			return Result{}, services.Wrap(services.ErrFilesystem, "ingest", "archive", "stat "+original, err)
		}
		if err := fileutil.Move(src, dst); err != nil {
			return Result{}, services.Wrap(services.ErrFilesystem, "ingest", "archive", "move "+original, err)
		}
		file, err := e.record(ctx, batch, paths, uploader, original, stored, dst, info.Size())
		if err != nil {
			return Result{}, err
		}
		result.Files = append(result.Files, file)
	}

	if err := batch.Commit(); err != nil {
		return Result{}, err
	}
	if err := removeEmptyDirs(extractRoot); err != nil {
		logging.WarnWithContext(logger, "empty directory cleanup incomplete", "extract_cleanup_failed",
			logging.String("path", extractRoot),
			logging.Error(err),
		)
	}

	logger.Info("archive ingested",
		logging.String("archive", archive.Name),
		logging.String("format", format),
		logging.Int("files", len(result.Files)),
		logging.Int("skipped", len(result.Skipped)),
		logging.String("uploader", e.normalizeUploader(uploader)),
	)
	return result, nil
}

// scanExtraction walks root in lexical order and splits regular files into
// recognised images and everything else (reported relative to root).
func (e *Engine) scanExtraction(root string) ([]string, []string, error) {
	var images, skipped []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type().IsRegular() && e.IsImage(d.Name()) {
			images = append(images, path)
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = d.Name()
		}
		skipped = append(skipped, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, nil, services.Wrap(services.ErrFilesystem, "ingest", "archive", "walk extraction", err)
	}
	return images, skipped, nil
}

// removeEmptyDirs deletes every empty directory under root, deepest first,
// including root itself. Directories that still hold files are kept.
func removeEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
