// Package services defines shared helpers consumed by the ingestion engine,
// the pipeline handlers, and the HTTP transport.
//
// Key responsibilities:
//   - Context helpers that stamp region names, job identifiers, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (not found, filesystem, extraction, ledger, external process)
//     with errors.Is regardless of how deeply they were wrapped.
//
// External tool clients live in subpackages (see services/colmap).
package services
