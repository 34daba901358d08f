package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"colabsfm/internal/jobs"
	"colabsfm/internal/logging"
	"colabsfm/internal/services"
)

// Runner executes colmap subcommands. *colmap.Client implements it.
type Runner interface {
	ExtractFeatures(ctx context.Context, database, images string) error
	MatchExhaustive(ctx context.Context, database string) error
	Map(ctx context.Context, database, images, output string) error
}

// Register installs the extraction and reconstruction handlers.
func Register(registry *jobs.Registry, runner Runner, logger *slog.Logger) {
	logger = logging.NewComponentLogger(logger, "pipeline")
	registry.Register(jobs.KindExtract, ExtractHandler(runner, logger))
	registry.Register(jobs.KindReconstruct, ReconstructHandler(runner, logger))
}

// ExtractHandler runs feature extraction for one job.
func ExtractHandler(runner Runner, logger *slog.Logger) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		payload, err := decodePayload(job)
		if err != nil {
			return err
		}
		log := logging.WithContext(ctx, logger)
		if err := runner.ExtractFeatures(ctx, payload.Database, payload.Images); err != nil {
			logPhaseFailure(log, "feature extraction failed", err)
			return err
		}
		log.Info("feature extraction finished", logging.String("database", payload.Database))
		return nil
	})
}

// ReconstructHandler runs exhaustive matching and then mapping. A matching
// failure aborts the job before mapper runs.
func ReconstructHandler(runner Runner, logger *slog.Logger) jobs.Handler {
	return jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) error {
		payload, err := decodePayload(job)
		if err != nil {
			return err
		}
		if payload.Output == "" {
			return services.Wrap(services.ErrValidation, "pipeline", "reconstruct", "job payload has no output path", nil)
		}
		log := logging.WithContext(ctx, logger)

		if err := runner.MatchExhaustive(ctx, payload.Database); err != nil {
			logPhaseFailure(log, "exhaustive matching failed, mapper skipped", err)
			return err
		}
		log.Info("exhaustive matching finished")

		if err := os.MkdirAll(payload.Output, 0o755); err != nil {
			return services.Wrap(services.ErrFilesystem, "pipeline", "reconstruct", "create output directory", err)
		}
		if err := runner.Map(ctx, payload.Database, payload.Images, payload.Output); err != nil {
			logPhaseFailure(log, "mapping failed", err)
			return err
		}
		log.Info("reconstruction finished", logging.String("output_dir", payload.Output))
		return nil
	})
}

func decodePayload(job *jobs.Job) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Payload{}, services.Wrap(services.ErrValidation, "pipeline", "decode payload", fmt.Sprintf("job %s", job.ID), err)
	}
	if payload.Database == "" || payload.Images == "" {
		return Payload{}, services.Wrap(services.ErrValidation, "pipeline", "decode payload", "database and image paths are required", nil)
	}
	return payload, nil
}

func logPhaseFailure(logger *slog.Logger, msg string, err error) {
	logging.ErrorWithContext(logger, msg, "colmap_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the region images and the colmap installation, then re-trigger"),
	)
}
