// Package api composes the region layout, ingestion engine, upload ledger,
// and pipeline dispatcher into the operations exposed over HTTP.
//
// # Key Types
//
// Service: explicitly constructed from its collaborators; every method takes
// a context and returns either a transport-ready DTO or a marked error from
// internal/services.
//
// Ack: the acknowledgment returned by mutating operations. Success means the
// work was accepted and dispatched, never that it completed.
//
// Upload, RegionSummary, DaemonStatus: read-side DTOs.
//
// # Design Notes
//
// Every ingestion variant dispatches feature extraction after the ledger
// commit. Reconstruction is dispatched on request; the job backend runs it
// after any extraction already queued for the same region.
//
// DTOs use snake_case JSON tags to match the historical HTTP API.
package api
