package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"colabsfm/internal/jobs"
	"colabsfm/internal/logging"
	"colabsfm/internal/region"
)

// Payload is the job body shared by both phases.
type Payload struct {
	Database string `json:"database_path"`
	Images   string `json:"image_path"`
	Output   string `json:"output_path,omitempty"`
}

// Accepted confirms that a job was queued. It says nothing about completion.
type Accepted struct {
	JobID      string    `json:"job_id"`
	Seq        int64     `json:"seq"`
	Kind       jobs.Kind `json:"kind"`
	Region     string    `json:"region_name"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Enqueuer is the producer half of a jobs.Broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec jobs.Spec) (*jobs.Job, error)
}

// EnqueueObserver is notified of every accepted job.
type EnqueueObserver interface {
	JobEnqueued(kind string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithNotify installs a hook called after each successful enqueue, typically
// jobs.Pool.Notify.
func WithNotify(fn func()) DispatcherOption {
	return func(d *Dispatcher) {
		d.notify = fn
	}
}

// WithObserver installs an enqueue observer.
func WithObserver(obs EnqueueObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = obs
	}
}

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher enqueues pipeline phases.
type Dispatcher struct {
	broker   Enqueuer
	notify   func()
	observer EnqueueObserver
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewDispatcher constructs a dispatcher writing to broker.
func NewDispatcher(broker Enqueuer, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		broker: broker,
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchExtraction queues feature extraction over the region's images.
func (d *Dispatcher) DispatchExtraction(ctx context.Context, paths region.Paths) (Accepted, error) {
	return d.dispatch(ctx, jobs.KindExtract, paths.Name, Payload{
		Database: paths.Database,
		Images:   paths.Images,
	})
}

// DispatchReconstruction queues matching followed by mapping into the
// region's sparse directory.
func (d *Dispatcher) DispatchReconstruction(ctx context.Context, paths region.Paths) (Accepted, error) {
	return d.dispatch(ctx, jobs.KindReconstruct, paths.Name, Payload{
		Database: paths.Database,
		Images:   paths.Images,
		Output:   paths.Sparse,
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, kind jobs.Kind, regionName string, payload Payload) (Accepted, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Accepted{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	// Holding the lock across Enqueue keeps sequence order and timestamp
	// order identical.
	d.mu.Lock()
	stamp := d.nextStamp()
	job, err := d.broker.Enqueue(ctx, jobs.Spec{
		Kind:       kind,
		Region:     regionName,
		Payload:    body,
		EnqueuedAt: stamp,
	})
	d.mu.Unlock()
	if err != nil {
		return Accepted{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	if d.observer != nil {
		d.observer.JobEnqueued(string(kind))
	}
	if d.notify != nil {
		d.notify()
	}
	d.logger.Info("job dispatched",
		logging.String(logging.FieldRegion, regionName),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(kind)),
		logging.Int64("seq", job.Seq),
	)
	return Accepted{
		JobID:      job.ID,
		Seq:        job.Seq,
		Kind:       kind,
		Region:     regionName,
		EnqueuedAt: job.EnqueuedAt,
	}, nil
}

// nextStamp must be called with mu held.
func (d *Dispatcher) nextStamp() time.Time {
	stamp := d.now().UTC()
	if !stamp.After(d.last) {
		stamp = d.last.Add(time.Microsecond)
	}
	d.last = stamp
	return stamp
}
