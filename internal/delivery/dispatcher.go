// Package delivery sends transformed payloads to a client's destinations and records
// each outcome.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/repository"
)

var ErrNoDestinationsConfigured = errors.New("no destinations configured")

// DeliveryError reports the destination that stopped a dispatch.
type DeliveryError struct {
	Type        models.DestinationType
	Destination string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Type, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Sink delivers one payload to one destination.
type Sink interface {
	Deliver(ctx context.Context, dest models.Destination, job *models.Job, payload json.RawMessage) error
}

// DestinationLookup returns a client's ordered destinations; nil for unknown clients.
type DestinationLookup interface {
	Destinations(clientID string) []models.Destination
}

// Dispatcher delivers to every destination of a client in configured order and stops at
// the first failure.
type Dispatcher struct {
	destinations  DestinationLookup
	ledger        repository.DeliveryRepository
	sinks         map[models.DestinationType]Sink
	skipSucceeded bool
	logger        *logging.Logger
}

// NewDispatcher creates a dispatcher. ledger may be nil, in which case no delivery
// records are written and nothing is skipped.
func NewDispatcher(destinations DestinationLookup, ledger repository.DeliveryRepository, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		destinations: destinations,
		ledger:       ledger,
		sinks:        make(map[models.DestinationType]Sink),
		logger:       logger,
	}
}

// Register installs the sink serving a destination type.
func (d *Dispatcher) Register(typ models.DestinationType, sink Sink) *Dispatcher {
	d.sinks[typ] = sink
	return d
}

// SkipSucceeded makes retries pass over destinations that already hold a SUCCESS
// record for the event.
func (d *Dispatcher) SkipSucceeded(skip bool) *Dispatcher {
	d.skipSucceeded = skip
	return d
}

// Deliver sends payload to each of the job client's destinations. The first failing
// destination is recorded and returned as a *DeliveryError; later destinations are
// not attempted.
func (d *Dispatcher) Deliver(ctx context.Context, job *models.Job, payload json.RawMessage) error {
	dests := d.destinations.Destinations(job.ClientID)
	if len(dests) == 0 {
		return fmt.Errorf("%w for client %s", ErrNoDestinationsConfigured, job.ClientID)
	}

	log := d.logger.With(logging.JobID(job.ID), logging.EventID(job.EventID), logging.ClientID(job.ClientID))
	done := d.completed(ctx, job, log)

	for _, dest := range dests {
		id := dest.Identifier()
		if done[repository.DeliveryKey(dest.Type, id)] {
			log.DebugContext(ctx, "destination already delivered, skipping", logging.Destination(id))
			continue
		}

		err := d.deliverOne(ctx, dest, job, payload)
		if err != nil {
			d.record(ctx, log, job, dest, models.DeliveryFailed, err)
			log.WarnContext(ctx, "destination delivery failed", logging.Destination(id), logging.Error(err))
			return &DeliveryError{Type: dest.Type, Destination: id, Err: err}
		}
		d.record(ctx, log, job, dest, models.DeliverySuccess, nil)
		log.DebugContext(ctx, "destination delivered", logging.Destination(id))
	}
	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, dest models.Destination, job *models.Job, payload json.RawMessage) error {
	sink, ok := d.sinks[dest.Type]
	if !ok {
		return fmt.Errorf("no sink registered for destination type %q", dest.Type)
	}

	start := time.Now()
	err := sink.Deliver(ctx, dest, job, payload)
	metrics.DeliveryDuration.WithLabelValues(string(dest.Type)).Observe(time.Since(start).Seconds())

	status := models.DeliverySuccess
	if err != nil {
		status = models.DeliveryFailed
	}
	metrics.Deliveries.WithLabelValues(string(dest.Type), string(status)).Inc()
	return err
}

func (d *Dispatcher) completed(ctx context.Context, job *models.Job, log *logging.Logger) map[string]bool {
	if !d.skipSucceeded || d.ledger == nil || !job.HasEvent() || job.Attempt == 0 {
		return nil
	}
	done, err := d.ledger.SucceededDestinations(ctx, *job.EventID)
	if err != nil {
		log.WarnContext(ctx, "could not read previous deliveries, delivering to all destinations", logging.Error(err))
		return nil
	}
	return done
}

// record writes the audit row. Failures are logged only.
func (d *Dispatcher) record(ctx context.Context, log *logging.Logger, job *models.Job, dest models.Destination, status models.DeliveryStatus, cause error) {
	if d.ledger == nil || !job.HasEvent() {
		return
	}
	rec := &models.DeliveryRecord{
		EventID:         *job.EventID,
		DestinationType: dest.Type,
		Destination:     dest.Identifier(),
		Status:          status,
		Attempts:        1,
	}
	if cause != nil {
		msg := cause.Error()
		rec.LastError = &msg
	}
	if err := d.ledger.RecordDelivery(ctx, rec); err != nil {
		log.ErrorContext(ctx, "failed to record delivery", logging.Destination(rec.Destination), logging.Error(err))
	}
}
