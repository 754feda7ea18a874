package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/webhook-relay/internal/models"
)

// Options tunes the PostgreSQL repository.
type Options struct {
	MaxConns     int32
	RecordPolicy RecordPolicy
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	policy RecordPolicy
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string, opts Options) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return NewPostgresRepositoryFromPool(pool, opts.RecordPolicy), nil
}

// NewPostgresRepositoryFromPool wraps an existing pool.
func NewPostgresRepositoryFromPool(pool *pgxpool.Pool, policy RecordPolicy) *PostgresRepository {
	if policy == "" {
		policy = RecordFirstWrite
	}
	return &PostgresRepository{pool: pool, policy: policy}
}

// Pool exposes the connection pool for components that share it, such as table
// destinations.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (r *PostgresRepository) InsertEvent(ctx context.Context, event *models.Event) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO events (client_id, source_system, signature, raw_body, dedup_key, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id, source_system, dedup_key) DO NOTHING
		RETURNING id, received_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		event.ClientID, event.SourceSystem, event.Signature,
		event.RawBody, event.DedupKey, string(models.StatusReceived),
	).Scan(&event.ID, &event.ReceivedAt, &event.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}

	event.Status = models.StatusReceived
	event.Attempts = 0
	return event.ID, true, nil
}

const eventColumns = `id, client_id, source_system, signature, raw_body, dedup_key,
	transformed_body, status, attempts, last_error, received_at, updated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		e           models.Event
		raw         []byte
		transformed []byte
		status      string
	)
	err := row.Scan(&e.ID, &e.ClientID, &e.SourceSystem, &e.Signature, &raw, &e.DedupKey,
		&transformed, &status, &e.Attempts, &e.LastError, &e.ReceivedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.RawBody = raw
	if transformed != nil {
		e.TransformedBody = transformed
	}
	e.Status = models.EventStatus(status)
	return &e, nil
}

func (r *PostgresRepository) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status models.EventStatus) error {
	return r.execEvent(ctx, "update event status",
		`UPDATE events SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
}

func (r *PostgresRepository) MarkTransformed(ctx context.Context, id int64, transformed json.RawMessage) error {
	return r.execEvent(ctx, "store transformed body",
		`UPDATE events SET status = $2, transformed_body = $3, updated_at = NOW() WHERE id = $1`,
		id, string(models.StatusTransformed), transformed)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return r.execEvent(ctx, "mark event failed",
		`UPDATE events
		 SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, string(models.StatusFailed), lastError)
}

func (r *PostgresRepository) execEvent(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *PostgresRepository) ListEventsByClient(ctx context.Context, clientID string, limit int) ([]*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE client_id = $1
		 ORDER BY received_at DESC, id DESC
		 LIMIT $2`,
		clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// =============================================================================
// DELIVERIES
// =============================================================================

func (r *PostgresRepository) RecordDelivery(ctx context.Context, record *models.DeliveryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO event_deliveries (event_id, destination_type, destination, status, attempts, last_error)
		VALUES ($1, $2, $3, $4, 1, $5)
	`
	switch r.policy {
	case RecordFirstWrite:
		query += `ON CONFLICT (event_id, destination_type, destination) DO NOTHING`
	default:
		query += `ON CONFLICT (event_id, destination_type, destination) DO UPDATE
			SET status = EXCLUDED.status,
			    attempts = event_deliveries.attempts + 1,
			    last_error = EXCLUDED.last_error,
			    updated_at = NOW()`
	}

	_, err := r.pool.Exec(ctx, query,
		record.EventID, string(record.DestinationType), record.Destination,
		string(record.Status), record.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SucceededDestinations(ctx context.Context, eventID int64) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT destination_type, destination FROM event_deliveries
		 WHERE event_id = $1 AND status = $2`,
		eventID, string(models.DeliverySuccess))
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var typ, dest string
		if err := rows.Scan(&typ, &dest); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		done[DeliveryKey(models.DestinationType(typ), dest)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return done, nil
}

// ListDeliveries returns the delivery records of an event ordered by destination.
func (r *PostgresRepository) ListDeliveries(ctx context.Context, eventID int64) ([]*models.DeliveryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT event_id, destination_type, destination, status, attempts, last_error, updated_at
		 FROM event_deliveries WHERE event_id = $1
		 ORDER BY destination_type, destination`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var records []*models.DeliveryRecord
	for rows.Next() {
		var (
			rec         models.DeliveryRecord
			typ, status string
		)
		if err := rows.Scan(&rec.EventID, &typ, &rec.Destination, &status,
			&rec.Attempts, &rec.LastError, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		rec.DestinationType = models.DestinationType(typ)
		rec.Status = models.DeliveryStatus(status)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return records, nil
}
