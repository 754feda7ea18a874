// Package service holds the relay's request-facing business logic: webhook intake and
// the event audit read.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/repository"
)

var (
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrInvalidPayload   = errors.New("invalid JSON payload")
	ErrPersistence      = errors.New("failed to persist event")
)

// IntakeRequest is one inbound webhook as received over HTTP.
type IntakeRequest struct {
	ClientID     string
	SourceSystem string
	Body         []byte
	Signature    string
}

// IntakeResult reports the outcome of a successful intake. EventID is zero for
// duplicates.
type IntakeResult struct {
	EventID   int64
	Duplicate bool
}

// SecretLookup returns a client's own signing secret, or "" when it has none.
type SecretLookup interface {
	Secret(clientID string) string
}

// Enqueuer accepts jobs for asynchronous processing.
type Enqueuer interface {
	Push(ctx context.Context, job *models.Job) error
}

// IntakeService verifies, deduplicates, persists and enqueues inbound webhooks.
type IntakeService struct {
	repo          repository.EventRepository
	queue         Enqueuer
	secrets       SecretLookup
	defaultSecret string
	logger        *logging.Logger
}

// NewIntakeService creates an intake service. defaultSecret signs clients that have no
// secret of their own.
func NewIntakeService(repo repository.EventRepository, queue Enqueuer, secrets SecretLookup, defaultSecret string, logger *logging.Logger) *IntakeService {
	return &IntakeService{
		repo:          repo,
		queue:         queue,
		secrets:       secrets,
		defaultSecret: defaultSecret,
		logger:        logger,
	}
}

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret. Hex case is ignored and
// the comparison runs in constant time.
func Verify(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// DedupKey returns the hex SHA-256 of body.
func DedupKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (s *IntakeService) secretFor(clientID string) string {
	if s.secrets != nil {
		if secret := s.secrets.Secret(clientID); secret != "" {
			return secret
		}
	}
	return s.defaultSecret
}

// Ingest verifies the signature, stores the event once per (client, source system,
// body) and enqueues the first processing job. A failure to enqueue after the event
// is stored is logged and does not fail the intake.
func (s *IntakeService) Ingest(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	log := s.logger.With(logging.ClientID(req.ClientID), logging.SourceSystem(req.SourceSystem))

	if !Verify(s.secretFor(req.ClientID), req.Body, req.Signature) {
		log.WarnContext(ctx, "webhook signature rejected")
		return nil, ErrSignatureInvalid
	}

	if !json.Valid(req.Body) {
		return nil, ErrInvalidPayload
	}

	event := &models.Event{
		ClientID:     req.ClientID,
		SourceSystem: req.SourceSystem,
		Signature:    strings.ToLower(strings.TrimSpace(req.Signature)),
		RawBody:      json.RawMessage(req.Body),
		DedupKey:     DedupKey(req.Body),
	}

	id, inserted, err := s.repo.InsertEvent(ctx, event)
	if err != nil {
		log.ErrorContext(ctx, "failed to persist webhook event", logging.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !inserted {
		log.InfoContext(ctx, "duplicate webhook ignored")
		return &IntakeResult{Duplicate: true}, nil
	}

	job := models.NewJob(&id, req.ClientID, req.SourceSystem, event.RawBody)
	if err := s.queue.Push(ctx, job); err != nil {
		metrics.EnqueueFailures.Inc()
		log.ErrorContext(ctx, "event stored but job could not be enqueued",
			logging.EventID(&id), logging.JobID(job.ID), logging.Error(err))
	} else {
		log.InfoContext(ctx, "webhook accepted", logging.EventID(&id), logging.JobID(job.ID))
	}

	return &IntakeResult{EventID: id}, nil
}
