package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
)

type mockProfileRepo struct {
	mock.Mock
}

func (m *mockProfileRepo) GetProfile(ctx context.Context, username string) (*models.BehavioralProfile, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BehavioralProfile), args.Error(1)
}

func (m *mockProfileRepo) UpsertProfile(ctx context.Context, profile *models.BehavioralProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func successEvent(username, ip string, ts time.Time) *models.AuthEvent {
	return &models.AuthEvent{
		EventID:   uuid.New(),
		EventType: models.EventSuccess,
		Username:  username,
		SourceIP:  ip,
		Timestamp: ts,
	}
}

func TestObserveCreatesProfileOnFirstSuccess(t *testing.T) {
	repo := new(mockProfileRepo)
	learner := NewLearner(repo, zap.NewNop())

	ts := time.Date(2025, 12, 1, 9, 30, 0, 0, time.UTC)
	repo.On("GetProfile", mock.Anything, "alice").Return(nil, postgres.ErrNotFound)

	var stored *models.BehavioralProfile
	repo.On("UpsertProfile", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*models.BehavioralProfile)
	}).Return(nil)

	geo := models.GeoInfo{CountryCode: "US", City: "Austin", Resolved: true}
	err := learner.Observe(context.Background(), successEvent("alice", "10.0.0.5", ts), geo)
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.LoginCount)
	assert.Equal(t, 1, stored.HourHistogram[9])
	assert.Equal(t, 1, stored.DayHistogram[int(ts.Weekday())])
	assert.Equal(t, 1, stored.KnownIPs["10.0.0.5"])
	assert.Equal(t, 1, stored.KnownLocations[models.LocationKey("US", "Austin")])
	assert.Equal(t, ts, stored.LastLoginAt)
}

func TestObserveIgnoresFailureWithoutProfile(t *testing.T) {
	repo := new(mockProfileRepo)
	learner := NewLearner(repo, zap.NewNop())

	repo.On("GetProfile", mock.Anything, "root").Return(nil, postgres.ErrNotFound)

	event := successEvent("root", "203.0.113.1", time.Now().UTC())
	event.EventType = models.EventFailed

	err := learner.Observe(context.Background(), event, models.GeoInfo{})
	require.NoError(t, err)
	repo.AssertNotCalled(t, "UpsertProfile", mock.Anything, mock.Anything)
}

func TestObserveUpdatesRunningGapAverage(t *testing.T) {
	repo := new(mockProfileRepo)
	learner := NewLearner(repo, zap.NewNop())

	last := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	existing := &models.BehavioralProfile{
		Username:         "alice",
		HourHistogram:    map[int]int{9: 2},
		DayHistogram:     map[int]int{1: 2},
		KnownIPs:         map[string]int{"10.0.0.5": 2},
		KnownLocations:   map[string]int{},
		AvgSessionGapSec: 3600,
		LastLoginAt:      last,
		LoginCount:       2,
	}
	repo.On("GetProfile", mock.Anything, "alice").Return(existing, nil)

	var stored *models.BehavioralProfile
	repo.On("UpsertProfile", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*models.BehavioralProfile)
	}).Return(nil)

	// Third login two hours after the last; mean gap moves from 3600
	// toward 7200.
	event := successEvent("alice", "10.0.0.5", last.Add(2*time.Hour))
	err := learner.Observe(context.Background(), event, models.GeoInfo{})
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.LoginCount)
	assert.InDelta(t, 5400, stored.AvgSessionGapSec, 0.1)
}

func TestObserveFailureKeepsBaselineClean(t *testing.T) {
	repo := new(mockProfileRepo)
	learner := NewLearner(repo, zap.NewNop())

	existing := &models.BehavioralProfile{
		Username:       "alice",
		HourHistogram:  map[int]int{9: 5},
		DayHistogram:   map[int]int{1: 5},
		KnownIPs:       map[string]int{"10.0.0.5": 5},
		KnownLocations: map[string]int{},
		LoginCount:     5,
	}
	repo.On("GetProfile", mock.Anything, "alice").Return(existing, nil)

	var stored *models.BehavioralProfile
	repo.On("UpsertProfile", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*models.BehavioralProfile)
	}).Return(nil)

	event := successEvent("alice", "203.0.113.9", time.Date(2025, 12, 2, 3, 0, 0, 0, time.UTC))
	event.EventType = models.EventFailed

	err := learner.Observe(context.Background(), event, models.GeoInfo{})
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.Equal(t, 5, stored.LoginCount)
	assert.NotContains(t, stored.KnownIPs, "203.0.113.9")
	assert.Zero(t, stored.HourHistogram[3])
}
