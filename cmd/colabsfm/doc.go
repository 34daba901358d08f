// Command colabsfm is the command-line client for the colabsfm daemon.
//
// Region, upload, reconstruction, and status commands talk to a running
// daemon over its HTTP API (see --addr and --token). The serve command runs
// the daemon in the foreground, and the config commands work offline.
package main
