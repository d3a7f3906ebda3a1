package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
)

// ProfileRepository stores per-username behavioral baselines. Histograms and
// seen-sets ride in JSONB columns; the upsert keeps one row per username.
type ProfileRepository interface {
	GetProfile(ctx context.Context, username string) (*models.BehavioralProfile, error)
	UpsertProfile(ctx context.Context, profile *models.BehavioralProfile) error
}

type profileRepository struct {
	db     *client.PostgresClient
	logger *zap.Logger
}

// NewProfileRepository creates the Postgres-backed profile repository.
func NewProfileRepository(db *client.PostgresClient, logger *zap.Logger) ProfileRepository {
	return &profileRepository{db: db, logger: logger}
}

func (r *profileRepository) GetProfile(ctx context.Context, username string) (*models.BehavioralProfile, error) {
	query := `
		SELECT username, hour_histogram, day_histogram, known_ips,
		       known_locations, avg_session_gap_sec,
		       COALESCE(last_login_at, 'epoch'::timestamptz),
		       login_count, confidence, created_at, updated_at
		FROM behavioral_profiles WHERE username = $1
	`
	var p models.BehavioralProfile
	var hourJSON, dayJSON, ipsJSON, locsJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, username).Scan(
		&p.Username, &hourJSON, &dayJSON, &ipsJSON, &locsJSON,
		&p.AvgSessionGapSec, &p.LastLoginAt, &p.LoginCount, &p.Confidence,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get behavioral profile: %w", err)
	}

	if err := decodeHistograms(&p, hourJSON, dayJSON, ipsJSON, locsJSON); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) UpsertProfile(ctx context.Context, profile *models.BehavioralProfile) error {
	hourJSON, err := json.Marshal(profile.HourHistogram)
	if err != nil {
		return fmt.Errorf("encode hour histogram: %w", err)
	}
	dayJSON, err := json.Marshal(profile.DayHistogram)
	if err != nil {
		return fmt.Errorf("encode day histogram: %w", err)
	}
	ipsJSON, err := json.Marshal(profile.KnownIPs)
	if err != nil {
		return fmt.Errorf("encode known ips: %w", err)
	}
	locsJSON, err := json.Marshal(profile.KnownLocations)
	if err != nil {
		return fmt.Errorf("encode known locations: %w", err)
	}

	query := `
		INSERT INTO behavioral_profiles (
			username, hour_histogram, day_histogram, known_ips, known_locations,
			avg_session_gap_sec, last_login_at, login_count, confidence,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (username) DO UPDATE SET
			hour_histogram      = EXCLUDED.hour_histogram,
			day_histogram       = EXCLUDED.day_histogram,
			known_ips           = EXCLUDED.known_ips,
			known_locations     = EXCLUDED.known_locations,
			avg_session_gap_sec = EXCLUDED.avg_session_gap_sec,
			last_login_at       = EXCLUDED.last_login_at,
			login_count         = EXCLUDED.login_count,
			confidence          = EXCLUDED.confidence,
			updated_at          = now()
	`
	_, err = r.db.Pool.Exec(ctx, query,
		profile.Username, hourJSON, dayJSON, ipsJSON, locsJSON,
		profile.AvgSessionGapSec, profile.LastLoginAt, profile.LoginCount,
		profile.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert behavioral profile: %w", err)
	}
	return nil
}

func decodeHistograms(p *models.BehavioralProfile, hourJSON, dayJSON, ipsJSON, locsJSON []byte) error {
	p.HourHistogram = map[int]int{}
	p.DayHistogram = map[int]int{}
	p.KnownIPs = map[string]int{}
	p.KnownLocations = map[string]int{}

	if err := json.Unmarshal(hourJSON, &p.HourHistogram); err != nil {
		return fmt.Errorf("decode hour histogram: %w", err)
	}
	if err := json.Unmarshal(dayJSON, &p.DayHistogram); err != nil {
		return fmt.Errorf("decode day histogram: %w", err)
	}
	if err := json.Unmarshal(ipsJSON, &p.KnownIPs); err != nil {
		return fmt.Errorf("decode known ips: %w", err)
	}
	if err := json.Unmarshal(locsJSON, &p.KnownLocations); err != nil {
		return fmt.Errorf("decode known locations: %w", err)
	}
	return nil
}
