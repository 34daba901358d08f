// Package daemon coordinates the long-running colabsfm process.
//
// It ties the region API service, the job broker and worker pool, the
// maintenance scheduler, and the HTTP transport into a single lifecycle with
// flock-based locking to prevent multiple instances against one state
// directory. The HTTP layer binds requests into structs, validates them with
// go-playground/validator, and maps marked service errors onto status codes.
//
// Keep orchestration logic here: ingestion, dispatch, and job execution live in
// their own packages while the daemon focuses on startup, shutdown, and
// transport.
package daemon
