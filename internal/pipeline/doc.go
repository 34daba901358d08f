// Package pipeline turns region paths into queued colmap work and runs that
// work inside the job pool.
//
// Dispatcher is the producer side: DispatchExtraction and
// DispatchReconstruction enqueue a job and return an Accepted token without
// waiting for execution. Enqueue times are strictly increasing per
// dispatcher, so a reconstruction dispatched after an ingestion always sorts
// after that ingestion's extraction.
//
// The handlers are the consumer side. Extraction runs feature_extractor.
// Reconstruction runs exhaustive_matcher and, only when it succeeds, mapper.
// Because the job backend serializes jobs per region, a reconstruction never
// starts while an earlier extraction for the same region is still pending.
package pipeline
