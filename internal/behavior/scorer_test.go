package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshwatch/internal/config"
	"sshwatch/internal/models"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MinProfileLogins: 10,
		AnomalyThreshold: 30,
		TimeWeight:       35,
		LocationWeight:   40,
		IPWeight:         25,
		DayWeight:        20,
		SessionGapWeight: 10,
	}
}

// officeProfile is a user who logs in weekdays at 09:00 from one IP in
// one city.
func officeProfile(loginCount int) *models.BehavioralProfile {
	return &models.BehavioralProfile{
		Username:         "alice",
		HourHistogram:    map[int]int{9: loginCount},
		DayHistogram:     map[int]int{1: loginCount, 2: loginCount},
		KnownIPs:         map[string]int{"10.0.0.5": loginCount},
		KnownLocations:   map[string]int{models.LocationKey("US", "Austin"): loginCount},
		AvgSessionGapSec: 86400,
		LastLoginAt:      time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC),
		LoginCount:       loginCount,
	}
}

func usualLogin() models.LoginSample {
	return models.LoginSample{
		Username:  "alice",
		IP:        "10.0.0.5",
		Country:   "US",
		City:      "Austin",
		Timestamp: time.Date(2025, 12, 2, 9, 0, 0, 0, time.UTC),
	}
}

func nightForeignLogin() models.LoginSample {
	return models.LoginSample{
		Username:  "alice",
		IP:        "203.0.113.44",
		Country:   "RU",
		City:      "Moscow",
		Timestamp: time.Date(2025, 12, 2, 3, 0, 0, 0, time.UTC),
	}
}

func TestScoreFirstTimeUser(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	result := scorer.Score(nil, usualLogin())

	assert.Equal(t, 0, result.Score)
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, models.ReasonFirstTimeUser, result.Reason)
}

func TestScoreInsufficientBaseline(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	// 9 logins is below the baseline minimum; even a 3 AM login from a
	// new country scores zero.
	result := scorer.Score(officeProfile(9), nightForeignLogin())

	assert.Equal(t, 0, result.Score)
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, models.ReasonInsufficientBaseline, result.Reason)
}

func TestScoreBecomesScoreableAtBaselineMinimum(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	result := scorer.Score(officeProfile(10), nightForeignLogin())

	assert.Equal(t, models.ReasonScored, result.Reason)
	assert.True(t, result.IsAnomaly)
	assert.GreaterOrEqual(t, result.Score, 30)
}

func TestScoreUsualLoginIsQuiet(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	result := scorer.Score(officeProfile(20), usualLogin())

	assert.False(t, result.IsAnomaly)
	assert.Less(t, result.Score, 30)
	assert.Empty(t, result.Factors)
}

func TestScoreSingleStrongFactorTriggers(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	// Same IP, same hour, same day, but a never-seen location. The
	// single location factor alone must clear the threshold.
	sample := usualLogin()
	sample.Country = "BR"
	sample.City = "Sao Paulo"

	result := scorer.Score(officeProfile(20), sample)

	assert.True(t, result.IsAnomaly)
	require.Len(t, result.Factors, 1)
	assert.Equal(t, "location", result.Factors[0].Name)
	assert.InDelta(t, 1.0, result.Factors[0].Deviation, 0.001)
}

func TestScoreContributingFactorsReported(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	result := scorer.Score(officeProfile(20), nightForeignLogin())

	names := make([]string, 0, len(result.Factors))
	for _, f := range result.Factors {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "location")
	assert.Contains(t, names, "source_ip")
	assert.Contains(t, names, "login_time")
	for _, f := range result.Factors {
		assert.NotEmpty(t, f.Detail)
	}
}

func TestScoreSessionGapTiers(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	profile := officeProfile(20)
	profile.AvgSessionGapSec = 3600

	// Just over 5x the learned average.
	sample := usualLogin()
	sample.Timestamp = profile.LastLoginAt.Add(6 * time.Hour)
	result := scorer.Score(profile, sample)
	assert.Equal(t, 0.5, gapDeviation(t, result))

	// Over 10x.
	sample.Timestamp = profile.LastLoginAt.Add(12 * time.Hour)
	result = scorer.Score(profile, sample)
	assert.Equal(t, 0.8, gapDeviation(t, result))
}

func gapDeviation(t *testing.T, result models.AnomalyScore) float64 {
	t.Helper()
	for _, f := range result.Factors {
		if f.Name == "session_gap" {
			return f.Deviation
		}
	}
	t.Fatal("session_gap factor not reported")
	return 0
}

func TestScoreBoundedToHundred(t *testing.T) {
	scorer := NewScorer(testEngineConfig())

	result := scorer.Score(officeProfile(20), nightForeignLogin())

	assert.GreaterOrEqual(t, result.Score, 0)
	assert.LessOrEqual(t, result.Score, 100)
}
