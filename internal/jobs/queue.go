package jobs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"colabsfm/internal/services"
	"colabsfm/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const jobColumns = "seq, id, kind, region_name, payload, status, error_message, worker, enqueued_at, started_at, finished_at"

// claimQuery selects the head of the oldest region chain that is idle.
const claimQuery = `SELECT ` + jobColumns + ` FROM jobs j
    WHERE j.status = ?
      AND NOT EXISTS (SELECT 1 FROM jobs r WHERE r.region_name = j.region_name AND r.status = ?)
      AND NOT EXISTS (SELECT 1 FROM jobs o WHERE o.region_name = j.region_name AND o.status = ? AND o.seq < j.seq)
    ORDER BY j.seq
    LIMIT 1`

// Queue is the SQLite-backed Broker.
type Queue struct {
	db   *sql.DB
	path string
	now  func() time.Time

	// claimMu serializes claim transactions inside this process.
	claimMu sync.Mutex
}

// OpenQueue connects to the job database at path and applies migrations.
func OpenQueue(ctx context.Context, path string) (*Queue, error) {
	db, err := sqlitedb.Open(ctx, path, migrationFS, "migrations")
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "open queue", path, err)
	}
	return &Queue{db: db, path: path, now: time.Now}, nil
}

// Path returns the database location.
func (q *Queue) Path() string {
	return q.path
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue persists a new queued job.
func (q *Queue) Enqueue(ctx context.Context, spec Spec) (*Job, error) {
	if err := spec.validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "jobs", "enqueue", "", err)
	}
	enqueued := spec.EnqueuedAt
	if enqueued.IsZero() {
		enqueued = q.now()
	}
	job := &Job{
		ID:         uuid.NewString(),
		Kind:       spec.Kind,
		Region:     spec.Region,
		Payload:    spec.Payload,
		Status:     StatusQueued,
		EnqueuedAt: enqueued.UTC(),
	}
	res, err := q.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, kind, region_name, payload, status, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Kind),
		job.Region,
		sqlitedb.NullableString(string(job.Payload)),
		string(job.Status),
		sqlitedb.Timestamp(job.EnqueuedAt),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "enqueue", job.Region, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "enqueue", "last insert id", err)
	}
	job.Seq = seq
	return job, nil
}

// Claim marks the next claimable job as running and returns it.
func (q *Queue) Claim(ctx context.Context, worker string) (*Job, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, claimQuery, StatusQueued, StatusRunning, StatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	started := q.now().UTC()
	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, started_at = ?, worker = ? WHERE seq = ? AND status = ?`,
		StatusRunning,
		sqlitedb.Timestamp(started),
		sqlitedb.NullableString(worker),
		job.Seq,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	job.Status = StatusRunning
	job.StartedAt = &started
	job.Worker = worker
	return job, nil
}

// Finish records the outcome of a running job.
func (q *Queue) Finish(ctx context.Context, job *Job, runErr error) error {
	if job == nil {
		return errors.New("finish: nil job")
	}
	finished := q.now().UTC()
	status := finalStatus(runErr)
	msg := errorMessage(runErr)
	if _, err := q.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status,
		sqlitedb.NullableString(msg),
		sqlitedb.Timestamp(finished),
		job.ID,
	); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	job.Status = status
	job.Error = msg
	job.FinishedAt = &finished
	return nil
}

// Get returns the job with id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, strings.TrimSpace(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", fmt.Sprintf("job %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListByRegion returns jobs for region in enqueue order.
func (q *Queue) ListByRegion(ctx context.Context, region string) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE region_name = ? ORDER BY seq`, region)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// RecoverInterrupted fails jobs left running by a previous process.
func (q *Queue) RecoverInterrupted(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, finished_at = ? WHERE status = ?`,
		StatusFailed,
		InterruptedReason,
		sqlitedb.Timestamp(q.now()),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes finished jobs that finished before the cutoff.
func (q *Queue) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		StatusCompleted,
		StatusFailed,
		sqlitedb.Timestamp(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job         Job
		kind        string
		status      string
		payload     sql.NullString
		errMsg      sql.NullString
		worker      sql.NullString
		enqueuedRaw string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.Seq,
		&job.ID,
		&kind,
		&job.Region,
		&payload,
		&status,
		&errMsg,
		&worker,
		&enqueuedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	job.Error = errMsg.String
	job.Worker = worker.String
	if payload.Valid && payload.String != "" {
		job.Payload = []byte(payload.String)
	}
	enqueued, err := sqlitedb.ParseTimestamp(enqueuedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse enqueued_at: %w", err)
	}
	job.EnqueuedAt = enqueued
	if job.StartedAt, err = parseOptional(startedRaw); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if job.FinishedAt, err = parseOptional(finishedRaw); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &job, nil
}

func parseOptional(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	parsed, err := sqlitedb.ParseTimestamp(raw.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
