package services

import "context"

type contextKey string

const (
	regionKey    contextKey = "region"
	jobIDKey     contextKey = "job_id"
	jobKindKey   contextKey = "job_kind"
	requestIDKey contextKey = "request_id"
)

// WithRegion annotates context with the region name being operated on.
func WithRegion(ctx context.Context, region string) context.Context {
	if region == "" {
		return ctx
	}
	return context.WithValue(ctx, regionKey, region)
}

// RegionFromContext returns the region name if present.
func RegionFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(regionKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJob annotates context with the queued job identifier and kind.
func WithJob(ctx context.Context, id, kind string) context.Context {
	if id != "" {
		ctx = context.WithValue(ctx, jobIDKey, id)
	}
	if kind != "" {
		ctx = context.WithValue(ctx, jobKindKey, kind)
	}
	return ctx
}

// JobFromContext returns the job identifier and kind if present.
func JobFromContext(ctx context.Context) (id, kind string, ok bool) {
	id, _ = ctx.Value(jobIDKey).(string)
	kind, _ = ctx.Value(jobKindKey).(string)
	return id, kind, id != ""
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
