// Package colmap mediates access to the colmap CLI used by the pipeline
// handlers.
//
// It owns the fixed argument contract for the three subcommands the service
// drives (feature_extractor, exhaustive_matcher, mapper), forwards tool output
// to the logger line by line, and turns a non-zero exit into an
// ErrExternalProcess error that carries the last lines of output.
//
// Prefer this package over ad-hoc exec.Command usage so tests can substitute
// an Executor and never need the real binary.
package colmap
