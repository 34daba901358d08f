// Package ledger persists one upload record per ingested image.
//
// Records are appended through a Batch so a multi-file ingestion commits all
// of its rows or none of them. Files already written to disk are not removed
// when a batch rolls back; the ingestion engine owns that trade-off.
//
// The schema is created by embedded migrations applied when the store is
// opened, so no caller ever probes for a missing table at write time.
package ledger
