// Package repository persists events and their per-destination delivery audit in
// PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telhawk-systems/webhook-relay/internal/models"
)

var (
	ErrEventNotFound = errors.New("event not found")
)

// RecordPolicy decides what happens when a delivery outcome is recorded for a
// destination that already has one. The zero value behaves as RecordFirstWrite.
type RecordPolicy string

const (
	// RecordLatest overwrites the previous outcome and counts the attempt.
	RecordLatest RecordPolicy = "latest"
	// RecordFirstWrite keeps the first outcome and ignores later ones.
	RecordFirstWrite RecordPolicy = "first_write"
)

// ParseRecordPolicy maps a configuration value to a RecordPolicy.
func ParseRecordPolicy(s string) (RecordPolicy, error) {
	switch RecordPolicy(s) {
	case "", RecordFirstWrite:
		return RecordFirstWrite, nil
	case RecordLatest:
		return RecordLatest, nil
	default:
		return "", fmt.Errorf("unknown delivery record policy %q", s)
	}
}

// EventRepository stores events and drives their status column.
type EventRepository interface {
	// InsertEvent stores event unless its dedup identity already exists. inserted is
	// false for duplicates, in which case the event is left untouched.
	InsertEvent(ctx context.Context, event *models.Event) (id int64, inserted bool, err error)
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	UpdateStatus(ctx context.Context, id int64, status models.EventStatus) error
	MarkTransformed(ctx context.Context, id int64, transformed json.RawMessage) error
	// MarkFailed sets FAILED, increments attempts and stores lastError.
	MarkFailed(ctx context.Context, id int64, lastError string) error
	ListEventsByClient(ctx context.Context, clientID string, limit int) ([]*models.Event, error)
}

// DeliveryRepository stores per-destination delivery outcomes.
type DeliveryRepository interface {
	RecordDelivery(ctx context.Context, record *models.DeliveryRecord) error
	// SucceededDestinations returns the destination keys (see DeliveryKey) that hold a
	// SUCCESS record for the event.
	SucceededDestinations(ctx context.Context, eventID int64) (map[string]bool, error)
}

// Repository is everything the relay persists.
type Repository interface {
	EventRepository
	DeliveryRepository
	Ping(ctx context.Context) error
	Close() error
}

// DeliveryKey identifies a destination within one event's delivery records.
func DeliveryKey(typ models.DestinationType, identifier string) string {
	return string(typ) + "|" + identifier
}
