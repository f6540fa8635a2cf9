package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/omniport-systems/omniport/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) SaveEvent(ctx context.Context, event *models.CanonicalEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO omniport_events (
			id, trace_id, source, device_id, user_id, organization_id,
			payload, risk_lane, risk_score, security_flags,
			destination, priority, ttl_ms, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.pool.Exec(ctx, query,
		event.ID, event.TraceID, event.Source, nullable(event.DeviceID),
		nullable(event.UserID), nullable(event.OrganizationID),
		payload, event.Security.Lane, event.Security.RiskScore, event.Security.Flags,
		event.Routing.Destination, event.Routing.Priority, event.Routing.TTLMs,
		time.UnixMilli(event.Timestamp).UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateEvent(ctx context.Context, event *models.CanonicalEvent) error {
	query := `
		UPDATE omniport_events
		SET processed_at = $2, destination = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, event.ID, event.ProcessedAt, event.Routing.Destination)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *PostgresRepository) GetEvent(ctx context.Context, id string) (*models.CanonicalEvent, error) {
	query := `
		SELECT id, trace_id, source, device_id, user_id, organization_id,
		       payload, risk_lane, risk_score, security_flags,
		       destination, priority, ttl_ms, ingested_at, processed_at
		FROM omniport_events
		WHERE id = $1
	`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (r *PostgresRepository) ListRecentEvents(ctx context.Context, limit int) ([]*models.CanonicalEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, trace_id, source, device_id, user_id, organization_id,
		       payload, risk_lane, risk_score, security_flags,
		       destination, priority, ttl_ms, ingested_at, processed_at
		FROM omniport_events
		ORDER BY ingested_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.CanonicalEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) SaveDLQEntry(ctx context.Context, entry *models.DLQEntry) error {
	eventData, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	query := `
		INSERT INTO omniport_dlq (id, event_data, destination, attempts, last_error, next_attempt_at, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET attempts = EXCLUDED.attempts,
		    last_error = EXCLUDED.last_error,
		    next_attempt_at = EXCLUDED.next_attempt_at,
		    status = EXCLUDED.status
	`

	_, err = r.pool.Exec(ctx, query,
		entry.ID, eventData, entry.Destination, entry.Attempts,
		entry.LastError, entry.NextAttemptAt, entry.CreatedAt, entry.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save DLQ entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateDLQEntry(ctx context.Context, entry *models.DLQEntry) error {
	query := `
		UPDATE omniport_dlq
		SET attempts = $2, last_error = $3, next_attempt_at = $4, status = $5
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Attempts, entry.LastError, entry.NextAttemptAt, entry.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update DLQ entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDLQEntryNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteDLQEntry(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM omniport_dlq WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDLQEntryNotFound
	}
	return nil
}

func (r *PostgresRepository) ListPendingDLQ(ctx context.Context, due time.Time, limit int) ([]*models.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, event_data, destination, attempts, last_error, next_attempt_at, created_at, status
		FROM omniport_dlq
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`

	return r.queryDLQ(ctx, query, due, limit)
}

func (r *PostgresRepository) ListDLQEntries(ctx context.Context, limit int) ([]*models.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, event_data, destination, attempts, last_error, next_attempt_at, created_at, status
		FROM omniport_dlq
		ORDER BY created_at DESC
		LIMIT $1
	`

	return r.queryDLQ(ctx, query, limit)
}

func (r *PostgresRepository) OldestPendingDLQ(ctx context.Context) (*models.DLQEntry, error) {
	query := `
		SELECT id, event_data, destination, attempts, last_error, next_attempt_at, created_at, status
		FROM omniport_dlq
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
	`

	entries, err := r.queryDLQ(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrDLQEntryNotFound
	}
	return entries[0], nil
}

func (r *PostgresRepository) DLQDepth(ctx context.Context) (int, error) {
	var depth int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM omniport_dlq WHERE status = 'pending'`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count DLQ depth: %w", err)
	}
	return depth, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) queryDLQ(ctx context.Context, query string, args ...any) ([]*models.DLQEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query DLQ: %w", err)
	}
	defer rows.Close()

	var entries []*models.DLQEntry
	for rows.Next() {
		entry := &models.DLQEntry{}
		var eventData []byte
		if err := rows.Scan(
			&entry.ID, &eventData, &entry.Destination, &entry.Attempts,
			&entry.LastError, &entry.NextAttemptAt, &entry.CreatedAt, &entry.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan DLQ entry: %w", err)
		}
		if err := json.Unmarshal(eventData, &entry.Event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal DLQ event: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.CanonicalEvent, error) {
	event := &models.CanonicalEvent{}
	var (
		payload                 []byte
		deviceID, userID, orgID *string
		ingestedAt              time.Time
	)

	err := row.Scan(
		&event.ID, &event.TraceID, &event.Source, &deviceID, &userID, &orgID,
		&payload, &event.Security.Lane, &event.Security.RiskScore, &event.Security.Flags,
		&event.Routing.Destination, &event.Routing.Priority, &event.Routing.TTLMs,
		&ingestedAt, &event.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &event.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if deviceID != nil {
		event.DeviceID = *deviceID
	}
	if userID != nil {
		event.UserID = *userID
	}
	if orgID != nil {
		event.OrganizationID = *orgID
	}
	event.Timestamp = ingestedAt.UnixMilli()
	return event, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
