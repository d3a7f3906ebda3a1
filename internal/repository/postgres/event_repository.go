package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
	"sshwatch/internal/util"
)

// EventRepository persists normalized auth events and answers the
// aggregation queries the rule engine and trust learner run against them.
type EventRepository interface {
	CreateEvent(ctx context.Context, event *models.AuthEvent) error
	GetEventByID(ctx context.Context, eventID string) (*models.AuthEvent, error)
	AdvanceStatus(ctx context.Context, eventID string, next models.ProcessingStatus) error
	CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int, error)
	ListActivitySince(ctx context.Context, since time.Time) ([]models.IPActivity, error)
	LastEventTimes(ctx context.Context, username string, limit int) ([]time.Time, error)
	HealthCheck(ctx context.Context) error
}

type eventRepository struct {
	db     *client.PostgresClient
	logger *zap.Logger
}

// NewEventRepository creates the Postgres-backed event repository.
func NewEventRepository(db *client.PostgresClient, logger *zap.Logger) EventRepository {
	return &eventRepository{db: db, logger: logger}
}

func (r *eventRepository) CreateEvent(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			event_id, ts, source_ip, source_ip_bytes, username, event_type,
			auth_method, failure_reason, port, protocol, hostname, raw_log,
			source, processing_status, status_rank, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		event.EventID,
		event.Timestamp,
		event.SourceIP,
		event.SourceIPBytes,
		event.Username,
		event.EventType,
		event.AuthMethod,
		event.FailureReason,
		event.Port,
		event.Protocol,
		event.Hostname,
		event.RawLog,
		event.Source,
		event.ProcessingStatus,
		event.ProcessingStatus.Rank(),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert auth event: %w", err)
	}
	return nil
}

func (r *eventRepository) GetEventByID(ctx context.Context, eventID string) (*models.AuthEvent, error) {
	query := `
		SELECT event_id, ts, source_ip, source_ip_bytes, username, event_type,
		       auth_method, failure_reason, port, protocol, hostname, raw_log,
		       source, processing_status, created_at
		FROM auth_events WHERE event_id = $1
	`
	var e models.AuthEvent
	err := r.db.Pool.QueryRow(ctx, query, eventID).Scan(
		&e.EventID, &e.Timestamp, &e.SourceIP, &e.SourceIPBytes, &e.Username,
		&e.EventType, &e.AuthMethod, &e.FailureReason, &e.Port, &e.Protocol,
		&e.Hostname, &e.RawLog, &e.Source, &e.ProcessingStatus, &e.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auth event: %w", err)
	}
	return &e, nil
}

// AdvanceStatus moves processing_status forward. The rank guard in SQL makes
// the transition monotonic even when stages complete out of order: a slower
// earlier stage can never overwrite a later one.
func (r *eventRepository) AdvanceStatus(ctx context.Context, eventID string, next models.ProcessingStatus) error {
	rank := next.Rank()
	if rank < 0 {
		return fmt.Errorf("unknown processing status: %q", next)
	}

	query := `
		UPDATE auth_events
		SET processing_status = $2, status_rank = $3
		WHERE event_id = $1 AND status_rank < $3
	`
	tag, err := r.db.Pool.Exec(ctx, query, eventID, next, rank)
	if err != nil {
		return fmt.Errorf("advance event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("event status not advanced",
			util.String("event_id", eventID),
			util.String("next", string(next)))
	}
	return nil
}

func (r *eventRepository) CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*) FROM auth_events
		WHERE source_ip = $1 AND event_type = 'failed' AND ts >= $2
	`
	var count int
	err := r.db.Pool.QueryRow(ctx, query, ip, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return count, nil
}

// ListActivitySince aggregates per-IP login history for every address with
// at least one success in the window. The trust learner recomputes from this
// aggregate, so re-running a batch is idempotent.
func (r *eventRepository) ListActivitySince(ctx context.Context, since time.Time) ([]models.IPActivity, error) {
	query := `
		SELECT source_ip,
		       COUNT(*) FILTER (WHERE event_type = 'success')  AS successes,
		       COUNT(*) FILTER (WHERE event_type = 'failed')   AS failures,
		       COUNT(DISTINCT username)                        AS unique_users,
		       COUNT(DISTINCT date_trunc('day', ts))           AS days_active,
		       MIN(ts)                                         AS first_seen,
		       MAX(ts)                                         AS last_seen
		FROM auth_events
		WHERE ts >= $1
		GROUP BY source_ip
		HAVING COUNT(*) FILTER (WHERE event_type = 'success') > 0
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list ip activity: %w", err)
	}
	defer rows.Close()

	var activities []models.IPActivity
	for rows.Next() {
		var a models.IPActivity
		if err := rows.Scan(&a.IP, &a.SuccessfulLogins, &a.FailedLogins,
			&a.UniqueUsers, &a.DaysActive, &a.FirstSeen, &a.LastSeen); err != nil {
			return nil, fmt.Errorf("scan ip activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (r *eventRepository) LastEventTimes(ctx context.Context, username string, limit int) ([]time.Time, error) {
	query := `
		SELECT ts FROM auth_events
		WHERE username = $1 AND event_type = 'success'
		ORDER BY ts DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list last event times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan event time: %w", err)
		}
		times = append(times, ts)
	}
	return times, rows.Err()
}

func (r *eventRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
