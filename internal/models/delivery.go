package models

import "time"

// DeliveryStatus is the per-destination outcome.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "SUCCESS"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// DeliveryRecord is the audit row keyed by (EventID, DestinationType, Destination).
type DeliveryRecord struct {
	EventID         int64
	DestinationType DestinationType
	Destination     string
	Status          DeliveryStatus
	Attempts        int
	LastError       *string
	UpdatedAt       time.Time
}
