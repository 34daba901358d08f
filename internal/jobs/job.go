package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Kind identifies which handler runs a job.
type Kind string

const (
	KindExtract     Kind = "extract"
	KindReconstruct Kind = "reconstruct"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// InterruptedReason is recorded on jobs that were running when the daemon
// stopped unexpectedly.
const InterruptedReason = "interrupted by daemon restart"

// Job is one unit of asynchronous work.
type Job struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Kind       Kind            `json:"kind"`
	Region     string          `json:"region_name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Worker     string          `json:"worker,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// IsFinished reports whether the job reached a terminal status.
func (j *Job) IsFinished() bool {
	return j != nil && (j.Status == StatusCompleted || j.Status == StatusFailed)
}

// Spec describes a job to enqueue.
type Spec struct {
	Kind       Kind
	Region     string
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

func (s Spec) validate() error {
	if strings.TrimSpace(string(s.Kind)) == "" {
		return errors.New("job kind is required")
	}
	if strings.TrimSpace(s.Region) == "" {
		return errors.New("job region is required")
	}
	return nil
}

// Broker stores jobs and hands them to workers.
//
// Claim returns nil without error when nothing is claimable. A job is
// claimable only when no job for the same region is running and no older job
// for the same region is still queued.
type Broker interface {
	Enqueue(ctx context.Context, spec Spec) (*Job, error)
	Claim(ctx context.Context, worker string) (*Job, error)
	Finish(ctx context.Context, job *Job, runErr error) error
	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) (map[Status]int, error)
	// RecoverInterrupted fails every job left running by a previous process.
	RecoverInterrupted(ctx context.Context) (int64, error)
	// Prune deletes finished jobs older than before.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

func errorMessage(runErr error) string {
	if runErr == nil {
		return ""
	}
	msg := strings.TrimSpace(runErr.Error())
	if msg == "" {
		return "job failed"
	}
	return msg
}

func finalStatus(runErr error) Status {
	if runErr != nil {
		return StatusFailed
	}
	return StatusCompleted
}
