// Package queue implements the durable job queue on Redis: a FIFO ready list and a
// sorted set of jobs waiting out a retry delay.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
)

// ErrMalformedJob is returned by Pop for entries that do not decode as a job. The
// entry has already been removed from the queue.
var ErrMalformedJob = errors.New("malformed job")

// MalformedJobError carries the raw entry that failed to decode.
type MalformedJobError struct {
	Raw string
	Err error
}

func (e *MalformedJobError) Error() string {
	return fmt.Sprintf("malformed job %q: %v", truncate(e.Raw, 64), e.Err)
}

func (e *MalformedJobError) Unwrap() error { return ErrMalformedJob }

// Queue is the ready queue consumed by workers.
type Queue interface {
	Push(ctx context.Context, job *models.Job) error
	Pop(ctx context.Context) (*models.Job, error)
	Len(ctx context.Context) (int64, error)
}

// Scheduler parks a job until its delay has elapsed.
type Scheduler interface {
	Schedule(ctx context.Context, job *models.Job, delay time.Duration) error
}

// RedisQueue pushes on the left and pops from the right of a Redis list, so jobs leave
// in the order they arrived.
type RedisQueue struct {
	client     *redis.Client
	key        string
	delayedKey string
	popTimeout time.Duration
}

// NewRedisQueue creates a queue on key. popTimeout bounds each blocking pop so callers
// regain control to observe cancellation.
func NewRedisQueue(client *redis.Client, key string, popTimeout time.Duration) *RedisQueue {
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:     client,
		key:        key,
		delayedKey: key + ":delayed",
		popTimeout: popTimeout,
	}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Key returns the ready list key.
func (q *RedisQueue) Key() string { return q.key }

// DelayedKey returns the sorted set key holding delayed jobs.
func (q *RedisQueue) DelayedKey() string { return q.delayedKey }

// Push appends job to the ready queue.
func (q *RedisQueue) Push(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	metrics.JobsEnqueued.Inc()
	return nil
}

// Pop blocks up to the pop timeout for the oldest job. It returns (nil, nil) when the
// wait times out and ctx.Err() once ctx is done.
func (q *RedisQueue) Pop(ctx context.Context) (*models.Job, error) {
	res, err := q.client.BRPop(ctx, q.popTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	// BRPOP replies with [key, value].
	raw := res[1]
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		metrics.MalformedJobs.Inc()
		return nil, &MalformedJobError{Raw: raw, Err: err}
	}
	return &job, nil
}

// Len returns the number of jobs ready for pickup.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
