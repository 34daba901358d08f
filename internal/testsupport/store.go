package testsupport

import (
	"context"
	"testing"

	"colabsfm/internal/config"
	"colabsfm/internal/jobs"
	"colabsfm/internal/ledger"
)

// MustOpenLedger opens the ledger for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(context.Background(), cfg.LedgerPath())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenQueue opens the SQLite job queue for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *jobs.Queue {
	t.Helper()

	queue, err := jobs.OpenQueue(context.Background(), cfg.QueuePath())
	if err != nil {
		t.Fatalf("jobs.OpenQueue: %v", err)
	}
	t.Cleanup(func() {
		_ = queue.Close()
	})
	return queue
}
