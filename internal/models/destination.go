package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DestinationType selects the delivery sink.
type DestinationType string

const (
	DestinationHTTP     DestinationType = "http"
	DestinationPostgres DestinationType = "postgres"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s is a plain SQL identifier safe to use as a schema
// or table name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

const (
	DefaultSchema = "public"
	DefaultTable  = "property_updates"
)

// ParseDestinationType normalises configured type names. "postgres-table" is accepted
// as an alias of "postgres".
func ParseDestinationType(s string) (DestinationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http", "https":
		return DestinationHTTP, nil
	case "postgres", "postgres-table", "postgresql":
		return DestinationPostgres, nil
	default:
		return "", fmt.Errorf("unknown destination type %q", s)
	}
}

// Destination is one configured delivery target.
type Destination struct {
	Type    DestinationType
	URL     string
	Headers map[string]string
	Schema  string
	Table   string
}

// SchemaName returns the configured schema or "public".
func (d Destination) SchemaName() string {
	if d.Schema == "" {
		return DefaultSchema
	}
	return d.Schema
}

// TableName returns the configured table or "property_updates".
func (d Destination) TableName() string {
	if d.Table == "" {
		return DefaultTable
	}
	return d.Table
}

// Identifier names the destination in delivery records: the URL for http, schema.table
// for postgres.
func (d Destination) Identifier() string {
	if d.Type == DestinationHTTP {
		return d.URL
	}
	return d.SchemaName() + "." + d.TableName()
}

// Validate checks the fields required by the destination type. Schema and table names
// come from configuration and are held to the identifier grammar.
func (d Destination) Validate() error {
	switch d.Type {
	case DestinationHTTP:
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("http destination has invalid url %q", d.URL)
		}
	case DestinationPostgres:
		if !ValidIdentifier(d.SchemaName()) {
			return fmt.Errorf("postgres destination has invalid schema %q", d.SchemaName())
		}
		if !ValidIdentifier(d.TableName()) {
			return fmt.Errorf("postgres destination has invalid table %q", d.TableName())
		}
	default:
		return fmt.Errorf("unknown destination type %q", d.Type)
	}
	return nil
}
