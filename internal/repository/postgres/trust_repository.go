package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
)

// TrustRepository keeps one trust record per subject (IP or /24 CIDR). The
// automatic upsert path refuses to touch manually-trusted rows; the manual
// path owns them outright.
type TrustRepository interface {
	GetBySubject(ctx context.Context, subject string) (*models.TrustRecord, error)
	UpsertAuto(ctx context.Context, record *models.TrustRecord) error
	UpsertManual(ctx context.Context, record *models.TrustRecord) error
	ListAutoTrustedIPs(ctx context.Context) ([]models.TrustRecord, error)
}

type trustRepository struct {
	db     *client.PostgresClient
	logger *zap.Logger
}

// NewTrustRepository creates the Postgres-backed trust repository.
func NewTrustRepository(db *client.PostgresClient, logger *zap.Logger) TrustRepository {
	return &trustRepository{db: db, logger: logger}
}

const trustColumns = `
	subject, kind, trust_score, successful_logins, failed_logins,
	unique_users, days_active, is_auto_trusted, is_manually_trusted,
	reason, first_seen, last_seen, updated_at
`

func (r *trustRepository) GetBySubject(ctx context.Context, subject string) (*models.TrustRecord, error) {
	query := `SELECT ` + trustColumns + ` FROM trust_records WHERE subject = $1`

	var t models.TrustRecord
	err := r.db.Pool.QueryRow(ctx, query, subject).Scan(
		&t.Subject, &t.Kind, &t.TrustScore, &t.SuccessfulLogins, &t.FailedLogins,
		&t.UniqueUsers, &t.DaysActive, &t.IsAutoTrusted, &t.IsManuallyTrusted,
		&t.Reason, &t.FirstSeen, &t.LastSeen, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trust record: %w", err)
	}
	return &t, nil
}

// UpsertAuto writes a learner-computed record. The WHERE guard on the update
// arm makes manual records invisible to the learner: the statement silently
// no-ops instead of downgrading them.
func (r *trustRepository) UpsertAuto(ctx context.Context, record *models.TrustRecord) error {
	query := `
		INSERT INTO trust_records (` + trustColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11, now())
		ON CONFLICT (subject) DO UPDATE SET
			trust_score       = EXCLUDED.trust_score,
			successful_logins = EXCLUDED.successful_logins,
			failed_logins     = EXCLUDED.failed_logins,
			unique_users      = EXCLUDED.unique_users,
			days_active       = EXCLUDED.days_active,
			is_auto_trusted   = EXCLUDED.is_auto_trusted,
			reason            = EXCLUDED.reason,
			last_seen         = EXCLUDED.last_seen,
			updated_at        = now()
		WHERE trust_records.is_manually_trusted = FALSE
	`
	_, err := r.db.Pool.Exec(ctx, query,
		record.Subject, record.Kind, record.TrustScore, record.SuccessfulLogins,
		record.FailedLogins, record.UniqueUsers, record.DaysActive,
		record.IsAutoTrusted, record.Reason, record.FirstSeen, record.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert auto trust record: %w", err)
	}
	return nil
}

// UpsertManual writes an operator-owned record.
func (r *trustRepository) UpsertManual(ctx context.Context, record *models.TrustRecord) error {
	query := `
		INSERT INTO trust_records (` + trustColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11, now())
		ON CONFLICT (subject) DO UPDATE SET
			trust_score         = EXCLUDED.trust_score,
			is_manually_trusted = TRUE,
			reason              = EXCLUDED.reason,
			last_seen           = EXCLUDED.last_seen,
			updated_at          = now()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		record.Subject, record.Kind, record.TrustScore, record.SuccessfulLogins,
		record.FailedLogins, record.UniqueUsers, record.DaysActive,
		record.IsAutoTrusted, record.Reason, record.FirstSeen, record.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert manual trust record: %w", err)
	}
	return nil
}

func (r *trustRepository) ListAutoTrustedIPs(ctx context.Context) ([]models.TrustRecord, error) {
	query := `SELECT ` + trustColumns + ` FROM trust_records
		WHERE kind = 'ip' AND is_auto_trusted = TRUE`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list auto-trusted ips: %w", err)
	}
	defer rows.Close()

	var records []models.TrustRecord
	for rows.Next() {
		var t models.TrustRecord
		if err := rows.Scan(
			&t.Subject, &t.Kind, &t.TrustScore, &t.SuccessfulLogins, &t.FailedLogins,
			&t.UniqueUsers, &t.DaysActive, &t.IsAutoTrusted, &t.IsManuallyTrusted,
			&t.Reason, &t.FirstSeen, &t.LastSeen, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trust record: %w", err)
		}
		records = append(records, t)
	}
	return records, rows.Err()
}
