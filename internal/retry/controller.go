package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/queue"
)

// StatusStore persists event status transitions.
type StatusStore interface {
	UpdateStatus(ctx context.Context, id int64, status models.EventStatus) error
	MarkTransformed(ctx context.Context, id int64, transformed json.RawMessage) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
}

// DeadLetterSink receives jobs that exhausted their retries.
type DeadLetterSink interface {
	Publish(ctx context.Context, job *models.Job, cause error) error
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	// Retry is true when Next has been scheduled.
	Retry bool
	Next  *models.Job
	Delay time.Duration
}

// Controller moves events through RECEIVED → PROCESSING → TRANSFORMED → SUCCESS, and on
// failure through FAILED back to the queue or to PERMANENTLY_FAILED.
// Jobs without an event skip all status writes.
type Controller struct {
	store      StatusStore
	scheduler  queue.Scheduler
	deadLetter DeadLetterSink
	policy     Policy
	logger     *logging.Logger
}

// NewController creates a controller scheduling retries on scheduler.
func NewController(store StatusStore, scheduler queue.Scheduler, policy Policy, logger *logging.Logger) *Controller {
	return &Controller{
		store:     store,
		scheduler: scheduler,
		policy:    policy,
		logger:    logger,
	}
}

// WithDeadLetter publishes permanently failed jobs to sink.
func (c *Controller) WithDeadLetter(sink DeadLetterSink) *Controller {
	c.deadLetter = sink
	return c
}

// Policy returns the retry policy in force.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Processing marks the job's event PROCESSING.
func (c *Controller) Processing(ctx context.Context, job *models.Job) error {
	if !job.HasEvent() {
		return nil
	}
	if err := c.store.UpdateStatus(ctx, *job.EventID, models.StatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// Transformed stores the transformed body and marks the event TRANSFORMED.
func (c *Controller) Transformed(ctx context.Context, job *models.Job, transformed json.RawMessage) error {
	if !job.HasEvent() {
		return nil
	}
	if err := c.store.MarkTransformed(ctx, *job.EventID, transformed); err != nil {
		return fmt.Errorf("mark transformed: %w", err)
	}
	return nil
}

// Succeeded marks the event SUCCESS.
func (c *Controller) Succeeded(ctx context.Context, job *models.Job) error {
	if !job.HasEvent() {
		return nil
	}
	if err := c.store.UpdateStatus(ctx, *job.EventID, models.StatusSuccess); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	return nil
}

// Fail records cause on the event and either schedules the next attempt after the
// policy delay or, once attempts are exhausted, marks the event PERMANENTLY_FAILED and
// hands the job to the dead-letter sink. The returned error is non-nil only when a
// retry could not be scheduled.
func (c *Controller) Fail(ctx context.Context, job *models.Job, cause error) (Decision, error) {
	log := c.logger.With(logging.JobID(job.ID), logging.EventID(job.EventID),
		logging.ClientID(job.ClientID), logging.Attempt(job.Attempt))

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	if job.HasEvent() {
		if err := c.store.MarkFailed(ctx, *job.EventID, msg); err != nil {
			log.ErrorContext(ctx, "failed to record event failure", logging.Error(err))
		}
	}

	if !c.policy.Exhausted(job.Attempt) {
		next := job.Next()
		delay := c.policy.Delay(job.Attempt)
		if err := c.scheduler.Schedule(ctx, next, delay); err != nil {
			log.ErrorContext(ctx, "failed to schedule retry", logging.Error(err))
			return Decision{}, fmt.Errorf("schedule retry: %w", err)
		}
		metrics.RetriesScheduled.Inc()
		log.WarnContext(ctx, "job failed, retry scheduled", logging.Delay(delay), logging.Error(cause))
		return Decision{Retry: true, Next: next, Delay: delay}, nil
	}

	metrics.PermanentFailures.Inc()
	log.ErrorContext(ctx, "job permanently failed", logging.Error(cause))

	if job.HasEvent() {
		if err := c.store.UpdateStatus(ctx, *job.EventID, models.StatusPermanentlyFailed); err != nil {
			log.ErrorContext(ctx, "failed to mark event permanently failed", logging.Error(err))
		}
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Publish(ctx, job, cause); err != nil {
			log.ErrorContext(ctx, "failed to publish dead letter", logging.Error(err))
		}
	}
	return Decision{}, nil
}
