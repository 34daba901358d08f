package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"colabsfm/internal/services"
)

// RedisOptions configures a RedisBroker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// Retention is how long finished jobs stay readable.
	Retention time.Duration
}

// RedisBroker is a Broker backed by Redis lists. Each region has its own list
// and a lock key that is held while one of its jobs runs.
type RedisBroker struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, opts RedisOptions) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "connect redis", opts.Addr, err)
	}
	return NewRedisBrokerWithClient(rdb, opts.Prefix, opts.Retention), nil
}

// NewRedisBrokerWithClient wraps an existing client.
func NewRedisBrokerWithClient(rdb *redis.Client, prefix string, retention time.Duration) *RedisBroker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "colabsfm"
	}
	return &RedisBroker{rdb: rdb, prefix: prefix, retention: retention, now: time.Now}
}

func (b *RedisBroker) key(parts ...string) string {
	return b.prefix + ":" + strings.Join(parts, ":")
}

func (b *RedisBroker) queueKey(region string) string { return b.key("queue", region) }
func (b *RedisBroker) lockKey(region string) string  { return b.key("lock", region) }
func (b *RedisBroker) jobKey(id string) string       { return b.key("job", id) }

// Close closes the Redis client.
func (b *RedisBroker) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// Enqueue appends a job to its region list.
func (b *RedisBroker) Enqueue(ctx context.Context, spec Spec) (*Job, error) {
	if err := spec.validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "jobs", "enqueue", "", err)
	}
	seq, err := b.rdb.Incr(ctx, b.key("seq")).Result()
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "enqueue", "next sequence", err)
	}
	enqueued := spec.EnqueuedAt
	if enqueued.IsZero() {
		enqueued = b.now()
	}
	job := &Job{
		ID:         uuid.NewString(),
		Seq:        seq,
		Kind:       spec.Kind,
		Region:     spec.Region,
		Payload:    spec.Payload,
		Status:     StatusQueued,
		EnqueuedAt: enqueued.UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.ID), raw, 0)
		pipe.RPush(ctx, b.queueKey(job.Region), job.ID)
		pipe.SAdd(ctx, b.key("regions"), job.Region)
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "enqueue", job.Region, err)
	}
	return job, nil
}

type regionHead struct {
	region string
	job    *Job
}

// Claim locks the idle region whose head job is oldest and pops that job.
func (b *RedisBroker) Claim(ctx context.Context, worker string) (*Job, error) {
	regions, err := b.rdb.SMembers(ctx, b.key("regions")).Result()
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	heads := make([]regionHead, 0, len(regions))
	for _, region := range regions {
		id, err := b.rdb.LIndex(ctx, b.queueKey(region), 0).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("peek region %s: %w", region, err)
		}
		job, err := b.load(ctx, id)
		if err != nil {
			return nil, err
		}
		heads = append(heads, regionHead{region: region, job: job})
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].job.Seq < heads[j].job.Seq })

	for _, head := range heads {
		locked, err := b.rdb.SetNX(ctx, b.lockKey(head.region), head.job.ID, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("lock region %s: %w", head.region, err)
		}
		if !locked {
			continue
		}
		job, err := b.popLocked(ctx, head.region, worker)
		if err != nil || job == nil {
			_ = b.rdb.Del(ctx, b.lockKey(head.region)).Err()
			if err != nil {
				return nil, err
			}
			continue
		}
		return job, nil
	}
	return nil, nil
}

// popLocked takes the head of a region list while the region lock is held.
func (b *RedisBroker) popLocked(ctx context.Context, region, worker string) (*Job, error) {
	id, err := b.rdb.LPop(ctx, b.queueKey(region)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop region %s: %w", region, err)
	}
	job, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	started := b.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	job.Worker = worker
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.lockKey(region), job.ID, 0)
		pipe.Set(ctx, b.jobKey(job.ID), raw, 0)
		pipe.SAdd(ctx, b.key("running"), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	return job, nil
}

// Finish records the outcome, releases the region lock, and starts the
// retention countdown for the job record.
func (b *RedisBroker) Finish(ctx context.Context, job *Job, runErr error) error {
	if job == nil {
		return errors.New("finish: nil job")
	}
	finished := b.now().UTC()
	job.Status = finalStatus(runErr)
	job.Error = errorMessage(runErr)
	job.FinishedAt = &finished
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.jobKey(job.ID), raw, b.retention)
		pipe.SRem(ctx, b.key("running"), job.ID)
		pipe.Del(ctx, b.lockKey(job.Region))
		pipe.Incr(ctx, b.key("count", string(job.Status)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with id while its record is retained.
func (b *RedisBroker) Get(ctx context.Context, id string) (*Job, error) {
	return b.load(ctx, strings.TrimSpace(id))
}

func (b *RedisBroker) load(ctx context.Context, id string) (*Job, error) {
	raw, err := b.rdb.Get(ctx, b.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", fmt.Sprintf("job %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Stats reports queued and running counts plus lifetime finished counters.
func (b *RedisBroker) Stats(ctx context.Context) (map[Status]int, error) {
	stats := make(map[Status]int)
	regions, err := b.rdb.SMembers(ctx, b.key("regions")).Result()
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	for _, region := range regions {
		n, err := b.rdb.LLen(ctx, b.queueKey(region)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue length %s: %w", region, err)
		}
		stats[StatusQueued] += int(n)
	}
	running, err := b.rdb.SCard(ctx, b.key("running")).Result()
	if err != nil {
		return nil, fmt.Errorf("running count: %w", err)
	}
	stats[StatusRunning] = int(running)
	for _, status := range []Status{StatusCompleted, StatusFailed} {
		n, err := b.rdb.Get(ctx, b.key("count", string(status))).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s count: %w", status, err)
		}
		stats[status] = n
	}
	return stats, nil
}

// RecoverInterrupted fails jobs left running and clears every region lock.
// Only one daemon may use a prefix at a time.
func (b *RedisBroker) RecoverInterrupted(ctx context.Context) (int64, error) {
	ids, err := b.rdb.SMembers(ctx, b.key("running")).Result()
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	var recovered int64
	for _, id := range ids {
		job, err := b.load(ctx, id)
		if errors.Is(err, services.ErrNotFound) {
			_ = b.rdb.SRem(ctx, b.key("running"), id).Err()
			continue
		}
		if err != nil {
			return recovered, err
		}
		if err := b.Finish(ctx, job, errors.New(InterruptedReason)); err != nil {
			return recovered, err
		}
		recovered++
	}
	regions, err := b.rdb.SMembers(ctx, b.key("regions")).Result()
	if err != nil {
		return recovered, fmt.Errorf("list regions: %w", err)
	}
	for _, region := range regions {
		if err := b.rdb.Del(ctx, b.lockKey(region)).Err(); err != nil {
			return recovered, fmt.Errorf("clear lock %s: %w", region, err)
		}
	}
	return recovered, nil
}

// Prune is a no-op: finished job records expire after the retention window.
func (b *RedisBroker) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}
