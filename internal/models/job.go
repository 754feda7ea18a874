package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Job is a queue entry. Its JSON form is the queue wire format.
type Job struct {
	ID           string          `json:"id"`
	EventID      *int64          `json:"eventId,omitempty"`
	ClientID     string          `json:"clientId"`
	SourceSystem string          `json:"sourceSystem"`
	Payload      json.RawMessage `json:"payload"`
	Attempt      int             `json:"attempt"`
}

// NewJob creates a first-attempt job for the given event.
func NewJob(eventID *int64, clientID, sourceSystem string, payload json.RawMessage) *Job {
	return &Job{
		ID:           uuid.New().String(),
		EventID:      eventID,
		ClientID:     clientID,
		SourceSystem: sourceSystem,
		Payload:      payload,
		Attempt:      0,
	}
}

// Next returns a copy of the job for the following attempt. The correlation ID is kept.
func (j *Job) Next() *Job {
	next := *j
	next.Attempt = j.Attempt + 1
	return &next
}

// HasEvent reports whether the job references a persisted Event.
func (j *Job) HasEvent() bool {
	return j.EventID != nil
}
