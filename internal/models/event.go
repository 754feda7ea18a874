// Package models holds the relay's persisted and queued data shapes.
package models

import (
	"encoding/json"
	"time"
)

// EventStatus is the lifecycle state of an Event.
type EventStatus string

const (
	StatusReceived          EventStatus = "RECEIVED"
	StatusProcessing        EventStatus = "PROCESSING"
	StatusTransformed       EventStatus = "TRANSFORMED"
	StatusSuccess           EventStatus = "SUCCESS"
	StatusFailed            EventStatus = "FAILED"
	StatusPermanentlyFailed EventStatus = "PERMANENTLY_FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s EventStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPermanentlyFailed
}

// Event is one uniquely ingested webhook delivery.
// (ClientID, SourceSystem, DedupKey) is unique.
type Event struct {
	ID              int64           `json:"id"`
	ClientID        string          `json:"clientId"`
	SourceSystem    string          `json:"sourceSystem"`
	Signature       string          `json:"-"`
	RawBody         json.RawMessage `json:"rawBody"`
	DedupKey        string          `json:"-"`
	TransformedBody json.RawMessage `json:"transformedBody"`
	Status          EventStatus     `json:"status"`
	Attempts        int             `json:"attempts"`
	LastError       *string         `json:"lastError"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	UpdatedAt       time.Time       `json:"-"`
}

// EventsResponse is the admin audit read payload.
type EventsResponse struct {
	Events []*Event `json:"events"`
}
