package service

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/repository"
)

const (
	DefaultEventLimit = 100
	MaxEventLimit     = 100
)

// EventService serves the per-client audit read.
type EventService struct {
	repo repository.EventRepository
}

// NewEventService creates a new event service
func NewEventService(repo repository.EventRepository) *EventService {
	return &EventService{repo: repo}
}

// ListClientEvents returns the client's most recent events, newest first. limit is
// clamped to [1, MaxEventLimit]; zero or less means the default.
func (s *EventService) ListClientEvents(ctx context.Context, clientID string, limit int) (*models.EventsResponse, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}

	events, err := s.repo.ListEventsByClient(ctx, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for client %s: %w", clientID, err)
	}
	if events == nil {
		events = []*models.Event{}
	}
	return &models.EventsResponse{Events: events}, nil
}
