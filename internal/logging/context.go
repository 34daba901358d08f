package logging

import (
	"context"
	"log/slog"

	"colabsfm/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRegion is the standardized structured logging key for region names.
	FieldRegion = "region"
	// FieldJobID is the standardized structured logging key for queued job identifiers.
	FieldJobID = "job_id"
	// FieldJobKind is the standardized structured logging key for job kinds (extract, reconstruct).
	FieldJobKind = "job_kind"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "request_id"
	// FieldEventType classifies warnings and failures for log filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries a short operator-facing next step.
	FieldErrorHint = "error_hint"
	// FieldError is the key used by Error.
	FieldError = "error"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if region, ok := services.RegionFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRegion, region))
	}
	if id, kind, ok := services.JobFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
		if kind != "" {
			fields = append(fields, slog.String(FieldJobKind, kind))
		}
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
