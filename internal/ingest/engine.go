package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"colabsfm/internal/config"
	"colabsfm/internal/fileutil"
	"colabsfm/internal/ledger"
	"colabsfm/internal/logging"
	"colabsfm/internal/region"
	"colabsfm/internal/services"
	"colabsfm/internal/textutil"
)

// maxStoredNameBytes keeps stored names within common filesystem limits.
const maxStoredNameBytes = 255

// Payload is one uploaded file as received from a client.
type Payload struct {
	Name   string
	Reader io.Reader
}

// StoredFile describes one ingested image.
type StoredFile struct {
	ID       int64  `json:"id"`
	Original string `json:"original"`
	Stored   string `json:"filename"`
	Path     string `json:"-"`
	Size     int64  `json:"size_bytes"`
	Camera   string `json:"camera,omitempty"`
}

// Result summarises one ingestion call.
type Result struct {
	Region  string       `json:"region_name"`
	Paths   region.Paths `json:"-"`
	Files   []StoredFile `json:"files"`
	Skipped []string     `json:"skipped,omitempty"`
}

// Ledger is the subset of the upload ledger the engine needs.
type Ledger interface {
	Begin(ctx context.Context) (*ledger.Batch, error)
}

// Options tunes an Engine.
type Options struct {
	ImageExtensions     []string
	MaxUploadBytes      int64
	ArchiveMaxFiles     int
	ArchiveMaxFileBytes int64
	CaptureEXIF         bool
	// DefaultUploader replaces an empty uploader id. Empty means
	// ledger.DefaultUploader.
	DefaultUploader string
}

// OptionsFromConfig extracts engine options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ImageExtensions:     cfg.Ingest.ImageExtensions,
		MaxUploadBytes:      cfg.Ingest.MaxUploadBytes,
		ArchiveMaxFiles:     cfg.Ingest.ArchiveMaxFiles,
		ArchiveMaxFileBytes: cfg.Ingest.ArchiveMaxFileBytes,
		CaptureEXIF:         cfg.Ingest.CaptureEXIF,
		DefaultUploader:     cfg.Ingest.DefaultUploader,
	}
}

// Engine performs the three ingestion variants.
type Engine struct {
	layout   *region.Layout
	ledger   Ledger
	logger   *slog.Logger
	opts     Options
	imageExt map[string]struct{}
	archives *archiveExtractor
	token    func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithTokenSource overrides the random token generator (tests only).
func WithTokenSource(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.token = fn
		}
	}
}

// NewEngine builds an engine writing under layout and recording into store.
func NewEngine(layout *region.Layout, store Ledger, opts Options, logger *slog.Logger, options ...Option) *Engine {
	exts := make(map[string]struct{}, len(opts.ImageExtensions))
	for _, ext := range opts.ImageExtensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	if len(exts) == 0 {
		for _, ext := range config.Default().Ingest.ImageExtensions {
			exts[ext] = struct{}{}
		}
	}
	e := &Engine{
		layout:   layout,
		ledger:   store,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		opts:     opts,
		imageExt: exts,
		archives: newArchiveExtractor(opts.ArchiveMaxFiles, opts.ArchiveMaxFileBytes),
		token:    uuid.NewString,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// StoredName prefixes the sanitized base of original with a fresh token.
func (e *Engine) StoredName(original string) string {
	return storedName(e.token(), original)
}

func storedName(token, original string) string {
	base := textutil.BaseName(original, "upload")
	prefix := token + "_"
	if len(prefix)+len(base) > maxStoredNameBytes {
		base = truncateBase(base, maxStoredNameBytes-len(prefix))
	}
	return prefix + base
}

// truncateBase shortens the stem of name so the whole fits in limit bytes,
// keeping the extension and never splitting a UTF-8 sequence.
func truncateBase(name string, limit int) string {
	ext := filepath.Ext(name)
	if len(ext) >= limit {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	budget := limit - len(ext)
	cut := 0
	for i := range stem {
		if i > budget {
			break
		}
		cut = i
	}
	if len(stem) <= budget {
		cut = len(stem)
	}
	return stem[:cut] + ext
}

// IsImage reports whether name carries a recognised image extension.
func (e *Engine) IsImage(name string) bool {
	_, ok := e.imageExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// IngestFiles stores every payload under the region's images directory and
// appends one ledger row per file in a single batch. Any failure aborts the
// remaining payloads and discards the batch.
func (e *Engine) IngestFiles(ctx context.Context, regionName, uploader string, payloads []Payload) (Result, error) {
	ctx = services.WithRegion(ctx, regionName)
	paths, err := e.layout.Require(regionName)
	if err != nil {
		return Result{}, err
	}
	logger := logging.WithContext(ctx, e.logger)

	batch, err := e.ledger.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = batch.Rollback() }()

	result := Result{Region: regionName, Paths: paths, Files: make([]StoredFile, 0, len(payloads))}
	var used int64
	for _, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if payload.Reader == nil {
			return Result{}, services.Wrap(services.ErrValidation, "ingest", "store", fmt.Sprintf("payload %q has no content", payload.Name), nil)
		}
		limit, err := e.uploadBudget(used)
		if err != nil {
			return Result{}, err
		}
		stored := e.StoredName(payload.Name)
		dst := filepath.Join(paths.Images, stored)
		size, err := fileutil.WriteNew(dst, payload.Reader, limit)
		if err != nil {
			if errors.Is(err, fileutil.ErrSizeLimit) {
				return Result{}, e.budgetError(err)
			}
			return Result{}, services.Wrap(services.ErrFilesystem, "ingest", "store", payload.Name, err)
		}
		used += size
		file, err := e.record(ctx, batch, paths, uploader, payload.Name, stored, dst, size)
		if err != nil {
			return Result{}, err
		}
		result.Files = append(result.Files, file)
	}

	if err := batch.Commit(); err != nil {
		return Result{}, err
	}
	logger.Info("images ingested",
		logging.Int("files", len(result.Files)),
		logging.String("uploader", e.normalizeUploader(uploader)),
	)
	return result, nil
}

// IngestFolder is the multi-file form entry point; it behaves exactly like
// IngestFiles.
func (e *Engine) IngestFolder(ctx context.Context, regionName, uploader string, payloads []Payload) (Result, error) {
	return e.IngestFiles(ctx, regionName, uploader, payloads)
}

func (e *Engine) record(ctx context.Context, batch *ledger.Batch, paths region.Paths, uploader, original, stored, dst string, size int64) (StoredFile, error) {
	camera := ""
	if e.opts.CaptureEXIF {
		camera = cameraFromEXIF(dst)
	}
	id, err := batch.Append(ctx, ledger.Record{
		Filename:  stored,
		UserID:    e.normalizeUploader(uploader),
		Region:    paths.Name,
		SizeBytes: size,
		Camera:    camera,
	})
	if err != nil {
		return StoredFile{}, err
	}
	return StoredFile{ID: id, Original: original, Stored: stored, Path: dst, Size: size, Camera: camera}, nil
}

// uploadBudget returns the byte limit for the next payload given what the
// call has already written. Zero means unlimited.
func (e *Engine) uploadBudget(used int64) (int64, error) {
	if e.opts.MaxUploadBytes <= 0 {
		return 0, nil
	}
	left := e.opts.MaxUploadBytes - used
	if left <= 0 {
		return 0, e.budgetError(nil)
	}
	return left, nil
}

func (e *Engine) budgetError(err error) error {
	return services.Wrap(services.ErrValidation, "ingest", "store", fmt.Sprintf("upload exceeds %d bytes", e.opts.MaxUploadBytes), err)
}

func (e *Engine) normalizeUploader(uploader string) string {
	if uploader = strings.TrimSpace(uploader); uploader != "" {
		return uploader
	}
	if fallback := strings.TrimSpace(e.opts.DefaultUploader); fallback != "" {
		return fallback
	}
	return ledger.DefaultUploader
}
