package api

import (
	"context"
	"log/slog"
	"strings"

	"colabsfm/internal/ingest"
	"colabsfm/internal/ledger"
	"colabsfm/internal/logging"
	"colabsfm/internal/metrics"
	"colabsfm/internal/pipeline"
	"colabsfm/internal/region"
	"colabsfm/internal/services"
)

// Ingest variants used for logging and metrics.
const (
	VariantFiles   = "files"
	VariantFolder  = "folder"
	VariantArchive = "archive"
)

// Ingester stores uploaded payloads and records them in the ledger.
type Ingester interface {
	IngestFiles(ctx context.Context, regionName, uploader string, payloads []ingest.Payload) (ingest.Result, error)
	IngestFolder(ctx context.Context, regionName, uploader string, payloads []ingest.Payload) (ingest.Result, error)
	IngestArchive(ctx context.Context, regionName, uploader string, archive ingest.Payload) (ingest.Result, error)
}

// Dispatcher queues pipeline phases.
type Dispatcher interface {
	DispatchExtraction(ctx context.Context, paths region.Paths) (pipeline.Accepted, error)
	DispatchReconstruction(ctx context.Context, paths region.Paths) (pipeline.Accepted, error)
}

// UploadReader reads the upload ledger.
type UploadReader interface {
	ListByRegion(ctx context.Context, region string) ([]ledger.Record, error)
	CountByRegion(ctx context.Context, region string) (int, error)
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Layout     *region.Layout
	Ingester   Ingester
	Uploads    UploadReader
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Service implements the region operations.
type Service struct {
	layout     *region.Layout
	ingester   Ingester
	uploads    UploadReader
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService constructs a Service. Metrics may be nil.
func NewService(deps Deps) *Service {
	return &Service{
		layout:     deps.Layout,
		ingester:   deps.Ingester,
		uploads:    deps.Uploads,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logging.NewComponentLogger(deps.Logger, "api"),
	}
}

// CreateRegion creates the region tree. Calling it for an existing region
// succeeds and leaves its content and ledger rows untouched.
func (s *Service) CreateRegion(ctx context.Context, name string) (Ack, error) {
	ctx = services.WithRegion(ctx, name)
	paths, err := s.layout.Create(name)
	if err != nil {
		return Ack{}, err
	}
	s.metrics.RegionCreated()
	logging.WithContext(ctx, s.logger).Info("region initialized", logging.String("dir", paths.Dir))
	return Ack{Region: name, Message: MessageRegionInitialized}, nil
}

// IngestFiles stores direct uploads and dispatches extraction.
func (s *Service) IngestFiles(ctx context.Context, regionName, uploader string, payloads []ingest.Payload) (Ack, error) {
	result, err := s.ingester.IngestFiles(ctx, regionName, uploader, payloads)
	return s.afterIngest(ctx, VariantFiles, MessageImagesUploaded, regionName, result, err)
}

// IngestFolder stores a multi-file folder upload and dispatches extraction.
func (s *Service) IngestFolder(ctx context.Context, regionName, uploader string, payloads []ingest.Payload) (Ack, error) {
	result, err := s.ingester.IngestFolder(ctx, regionName, uploader, payloads)
	return s.afterIngest(ctx, VariantFolder, MessageImagesUploaded, regionName, result, err)
}

// IngestArchive extracts an archive's images and dispatches extraction.
func (s *Service) IngestArchive(ctx context.Context, regionName, uploader string, archive ingest.Payload) (Ack, error) {
	result, err := s.ingester.IngestArchive(ctx, regionName, uploader, archive)
	return s.afterIngest(ctx, VariantArchive, MessageArchiveUploaded, regionName, result, err)
}

func (s *Service) afterIngest(ctx context.Context, variant, message, regionName string, result ingest.Result, err error) (Ack, error) {
	ctx = services.WithRegion(ctx, regionName)
	logger := logging.WithContext(ctx, s.logger).With(logging.String("variant", variant))
	if err != nil {
		s.metrics.IngestFailed(variant, services.Kind(err))
		logging.WarnWithContext(logger, "ingestion rejected", "ingest_failed",
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
			logging.String(logging.FieldErrorHint, ingestHint(err)),
		)
		return Ack{}, err
	}
	s.metrics.IngestSucceeded(variant, len(result.Files))

	accepted, err := s.dispatcher.DispatchExtraction(ctx, result.Paths)
	if err != nil {
		logging.ErrorWithContext(logger, "extraction dispatch failed after ingestion", "dispatch_failed",
			logging.Error(err),
			logging.Int("files", len(result.Files)),
			logging.String(logging.FieldErrorHint, "images are stored; re-upload or trigger extraction once the queue is back"),
		)
		return Ack{}, services.Wrap(services.ErrUnavailable, "api", "dispatch extraction", regionName, err)
	}
	return Ack{
		Region:  regionName,
		Message: message,
		JobID:   accepted.JobID,
		Files:   storedNames(result),
		Skipped: result.Skipped,
	}, nil
}

// TriggerReconstruction dispatches matching and mapping for an existing
// region.
func (s *Service) TriggerReconstruction(ctx context.Context, regionName string) (Ack, error) {
	ctx = services.WithRegion(ctx, regionName)
	paths, err := s.layout.Require(regionName)
	if err != nil {
		return Ack{}, err
	}
	accepted, err := s.dispatcher.DispatchReconstruction(ctx, paths)
	if err != nil {
		return Ack{}, services.Wrap(services.ErrUnavailable, "api", "dispatch reconstruction", regionName, err)
	}
	return Ack{
		Region:    regionName,
		Message:   MessageReconstructionStart,
		OutputDir: paths.Sparse,
		JobID:     accepted.JobID,
	}, nil
}

// ListUploads returns the ledger rows for regionName. Unknown regions yield an
// empty list.
func (s *Service) ListUploads(ctx context.Context, regionName string) ([]Upload, error) {
	records, err := s.uploads.ListByRegion(ctx, strings.TrimSpace(regionName))
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Regions lists existing regions with their upload counts.
func (s *Service) Regions(ctx context.Context) ([]RegionSummary, error) {
	names, err := s.layout.List()
	if err != nil {
		return nil, err
	}
	out := make([]RegionSummary, 0, len(names))
	for _, name := range names {
		count, err := s.uploads.CountByRegion(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, RegionSummary{Name: name, Uploads: count})
	}
	return out, nil
}

func ingestHint(err error) string {
	switch services.Kind(err) {
	case "not_found":
		return "create the region before uploading"
	case "extraction":
		return "upload a zip or tar archive that is not corrupt"
	case "validation":
		return "check the upload size limit and payload names"
	case "ledger":
		return "files written before the failure remain in the images directory"
	default:
		return "check disk space and permissions under the project root"
	}
}
