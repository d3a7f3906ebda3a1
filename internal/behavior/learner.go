package behavior

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
)

// Learner maintains the per-username login baselines. Profiles are
// created on the first successful login and folded forward on every
// event after that.
type Learner struct {
	profiles postgres.ProfileRepository
	logger   *zap.Logger
}

func NewLearner(profiles postgres.ProfileRepository, logger *zap.Logger) *Learner {
	return &Learner{profiles: profiles, logger: logger}
}

// Observe folds one event into the username's profile. Failed attempts
// only refresh the profile's update time; letting them into the
// histograms would teach the baseline from attacker traffic.
func (l *Learner) Observe(ctx context.Context, event *models.AuthEvent, geo models.GeoInfo) error {
	profile, err := l.profiles.GetProfile(ctx, event.Username)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		return fmt.Errorf("load profile: %w", err)
	}

	if profile == nil {
		if event.EventType != models.EventSuccess {
			return nil
		}
		profile = newProfile(event.Username)
	}

	if event.EventType == models.EventSuccess {
		applyLogin(profile, event, geo)
	}
	profile.UpdatedAt = time.Now().UTC()

	if err := l.profiles.UpsertProfile(ctx, profile); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

func newProfile(username string) *models.BehavioralProfile {
	now := time.Now().UTC()
	return &models.BehavioralProfile{
		Username:       username,
		HourHistogram:  make(map[int]int),
		DayHistogram:   make(map[int]int),
		KnownIPs:       make(map[string]int),
		KnownLocations: make(map[string]int),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func applyLogin(profile *models.BehavioralProfile, event *models.AuthEvent, geo models.GeoInfo) {
	ts := event.Timestamp

	profile.HourHistogram[ts.Hour()]++
	profile.DayHistogram[int(ts.Weekday())]++
	profile.KnownIPs[event.SourceIP]++
	if geo.Resolved {
		profile.KnownLocations[models.LocationKey(geo.CountryCode, geo.City)]++
	}

	if !profile.LastLoginAt.IsZero() {
		gap := ts.Sub(profile.LastLoginAt).Seconds()
		if gap > 0 {
			// Running mean over the observed inter-login gaps.
			n := float64(profile.LoginCount)
			profile.AvgSessionGapSec = (profile.AvgSessionGapSec*(n-1) + gap) / n
		}
	}

	profile.LastLoginAt = ts
	profile.LoginCount++
	profile.Confidence = confidence(profile.LoginCount)
}

// confidence ramps from 0 to 1 over the first 50 logins.
func confidence(loginCount int) float64 {
	c := float64(loginCount) / 50.0
	if c > 1 {
		c = 1
	}
	return c
}
