// Package worker drains the job queue: each job is transformed, delivered and its
// outcome handed to the retry controller.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/queue"
	"github.com/telhawk-systems/webhook-relay/internal/retry"
)

// Transformer shapes a job payload for its client.
type Transformer interface {
	Transform(clientID, sourceSystem string, payload json.RawMessage) (json.RawMessage, error)
}

// Deliverer sends a transformed payload to the client's destinations.
type Deliverer interface {
	Deliver(ctx context.Context, job *models.Job, payload json.RawMessage) error
}

// Options tunes the worker loop.
type Options struct {
	// Concurrency is the number of competing consumers. Defaults to 1.
	Concurrency int
	// ErrorBackoff is the pause after a failed queue read. Defaults to 1s.
	ErrorBackoff time.Duration
}

// Worker consumes jobs until its context is cancelled.
type Worker struct {
	queue       queue.Queue
	transformer Transformer
	deliverer   Deliverer
	controller  *retry.Controller
	opts        Options
	logger      *logging.Logger
}

// New creates a worker.
func New(q queue.Queue, transformer Transformer, deliverer Deliverer, controller *retry.Controller, opts Options, logger *logging.Logger) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	return &Worker{
		queue:       q,
		transformer: transformer,
		deliverer:   deliverer,
		controller:  controller,
		opts:        opts,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled and every consumer has finished its current job.
func (w *Worker) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "worker started, waiting for jobs", "concurrency", w.opts.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(consumer int) {
			defer wg.Done()
			w.consume(ctx, w.logger.With("consumer", consumer))
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
}

func (w *Worker) consume(ctx context.Context, log *logging.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrMalformedJob) {
				log.WarnContext(ctx, "discarding malformed queue entry", logging.Error(err))
				continue
			}
			log.ErrorContext(ctx, "queue read failed", logging.Error(err))
			select {
			case <-time.After(w.opts.ErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		// Shutdown waits for the in-flight job rather than interrupting it.
		w.Handle(context.WithoutCancel(ctx), job)
	}
}

// Handle runs one attempt of job and routes a failure to the retry controller.
func (w *Worker) Handle(ctx context.Context, job *models.Job) {
	log := w.logger.With(logging.JobID(job.ID), logging.EventID(job.EventID),
		logging.ClientID(job.ClientID), logging.Attempt(job.Attempt))
	start := time.Now()

	log.InfoContext(ctx, "processing job")
	err := w.process(ctx, job)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.JobsProcessed.WithLabelValues("success").Inc()
		log.InfoContext(ctx, "job delivered", logging.Duration(time.Since(start)))
		return
	}

	decision, ferr := w.controller.Fail(ctx, job, err)
	switch {
	case ferr != nil:
		metrics.JobsProcessed.WithLabelValues("lost").Inc()
		log.ErrorContext(ctx, "job failed and could not be rescheduled", logging.Error(ferr))
	case decision.Retry:
		metrics.JobsProcessed.WithLabelValues("retry").Inc()
	default:
		metrics.JobsProcessed.WithLabelValues("dead").Inc()
	}
}

func (w *Worker) process(ctx context.Context, job *models.Job) error {
	if err := w.controller.Processing(ctx, job); err != nil {
		return err
	}

	transformed, err := w.transformer.Transform(job.ClientID, job.SourceSystem, job.Payload)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}

	if err := w.controller.Transformed(ctx, job, transformed); err != nil {
		return err
	}

	if err := w.deliverer.Deliver(ctx, job, transformed); err != nil {
		return err
	}

	return w.controller.Succeeded(ctx, job)
}
