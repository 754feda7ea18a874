package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
)

// promoteScript moves up to ARGV[2] members scored at or below ARGV[1] from the delayed
// set onto the ready list in one step, so a job is never in both or neither.
var promoteScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
	for _, member in ipairs(due) do
		redis.call('ZREM', KEYS[1], member)
		redis.call('LPUSH', KEYS[2], member)
	end
	return #due
`)

// Schedule parks job in the delayed set until delay has elapsed. A non-positive delay
// pushes it straight onto the ready queue.
func (q *RedisQueue) Schedule(ctx context.Context, job *models.Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Push(ctx, job)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	due := time.Now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	metrics.JobsScheduled.Inc()
	return nil
}

// PromoteDue moves at most batch jobs whose due time is at or before now onto the
// ready queue and returns how many moved.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.key},
		strconv.FormatInt(now.UnixMilli(), 10), batch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	if n > 0 {
		metrics.JobsPromoted.Add(float64(n))
	}
	return n, nil
}

// Delayed returns the number of jobs waiting out a retry delay.
func (q *RedisQueue) Delayed(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed set size: %w", err)
	}
	return n, nil
}

// Promoter periodically moves due jobs from the delayed set to the ready queue.
type Promoter struct {
	queue    *RedisQueue
	interval time.Duration
	batch    int
	logger   *logging.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	stopped   chan struct{}
}

// NewPromoter creates a promoter for q.
func NewPromoter(q *RedisQueue, interval time.Duration, batch int, logger *logging.Logger) *Promoter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if batch <= 0 {
		batch = 100
	}
	return &Promoter{
		queue:    q,
		interval: interval,
		batch:    batch,
		logger:   logger,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the promotion loop in the background and returns immediately. The
// loop runs until Stop is called or ctx is done. Later calls are no-ops.
func (p *Promoter) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run(ctx)
	})
}

// Stop signals the loop to exit and waits for it. It is safe to call more than once
// and before Start.
func (p *Promoter) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.stopped
	}
}

func (p *Promoter) run(ctx context.Context) {
	defer close(p.stopped)

	p.logger.InfoContext(ctx, "delayed job promoter started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.promote(ctx)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Promoter) promote(ctx context.Context) {
	// Drain full batches before waiting for the next tick.
	for {
		n, err := p.queue.PromoteDue(ctx, time.Now(), p.batch)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "delayed job promotion failed", logging.Error(err))
			}
			return
		}
		if n > 0 {
			p.logger.DebugContext(ctx, "promoted delayed jobs", "count", n)
		}
		if n < p.batch {
			return
		}
	}
}
