// Package maintenance runs scheduled housekeeping for the daemon: pruning
// finished jobs past their retention window and sweeping temporary upload
// archives that a crashed ingestion left behind in region directories.
package maintenance
