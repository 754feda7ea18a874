package logging

import (
	"log/slog"
	"time"
)

// Field names shared by every component so log queries stay uniform.
const (
	FieldService      = "service"
	FieldRequestID    = "request_id"
	FieldClientID     = "client_id"
	FieldSourceSystem = "source_system"
	FieldEventID      = "event_id"
	FieldJobID        = "job_id"
	FieldAttempt      = "attempt"
	FieldDestination  = "destination"
	FieldDelay        = "delay"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func ClientID(id string) slog.Attr {
	return slog.String(FieldClientID, id)
}

func SourceSystem(name string) slog.Attr {
	return slog.String(FieldSourceSystem, name)
}

// EventID renders a nullable event reference; jobs without one log 0.
func EventID(id *int64) slog.Attr {
	if id == nil {
		return slog.Int64(FieldEventID, 0)
	}
	return slog.Int64(FieldEventID, *id)
}

func JobID(id string) slog.Attr {
	return slog.String(FieldJobID, id)
}

func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

func Destination(identifier string) slog.Attr {
	return slog.String(FieldDestination, identifier)
}

func Delay(d time.Duration) slog.Attr {
	return slog.String(FieldDelay, d.String())
}

func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error renders as empty.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
