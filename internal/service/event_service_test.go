package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sshwatch/internal/behavior"
	"sshwatch/internal/blocking"
	"sshwatch/internal/config"
	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/threat"
)

type mockEventRepo struct {
	mock.Mock
}

func (m *mockEventRepo) CreateEvent(ctx context.Context, event *models.AuthEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEventRepo) GetEventByID(ctx context.Context, eventID string) (*models.AuthEvent, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthEvent), args.Error(1)
}

func (m *mockEventRepo) AdvanceStatus(ctx context.Context, eventID string, next models.ProcessingStatus) error {
	return m.Called(ctx, eventID, next).Error(0)
}

func (m *mockEventRepo) CountRecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	args := m.Called(ctx, ip, window)
	return args.Int(0), args.Error(1)
}

func (m *mockEventRepo) ListActivitySince(ctx context.Context, since time.Time) ([]models.IPActivity, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.IPActivity), args.Error(1)
}

func (m *mockEventRepo) LastEventTimes(ctx context.Context, username string, limit int) ([]time.Time, error) {
	args := m.Called(ctx, username, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *mockEventRepo) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

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
	return m.Called(ctx, profile).Error(0)
}

type mockRuleRepo struct {
	mock.Mock
}

func (m *mockRuleRepo) ListEnabled(ctx context.Context) ([]models.BlockingRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BlockingRule), args.Error(1)
}

func (m *mockRuleRepo) ListAll(ctx context.Context) ([]models.BlockingRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BlockingRule), args.Error(1)
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *models.BlockingRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *mockRuleRepo) Delete(ctx context.Context, ruleID int64) error {
	return m.Called(ctx, ruleID).Error(0)
}

func (m *mockRuleRepo) SeedDefaults(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRuleRepo) LoadScoreBands(ctx context.Context) ([]models.ScoreBand, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoreBand), args.Error(1)
}

type mockBlockRepo struct {
	mock.Mock
}

func (m *mockBlockRepo) CreateBlockIfAbsent(ctx context.Context, block *models.BlockRecord) (bool, error) {
	args := m.Called(ctx, block)
	return args.Bool(0), args.Error(1)
}

func (m *mockBlockRepo) GetActiveBlock(ctx context.Context, ip string) (*models.BlockRecord, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BlockRecord), args.Error(1)
}

func (m *mockBlockRepo) Deactivate(ctx context.Context, ip string) (*models.BlockRecord, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BlockRecord), args.Error(1)
}

func (m *mockBlockRepo) DeactivateExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockBlockRepo) ListActive(ctx context.Context, limit int) ([]models.BlockRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BlockRecord), args.Error(1)
}

func (m *mockBlockRepo) CountPriorBlocks(ctx context.Context, ip string) (int, error) {
	args := m.Called(ctx, ip)
	return args.Int(0), args.Error(1)
}

func (m *mockBlockRepo) InsertAction(ctx context.Context, action *models.BlockingAction) error {
	return m.Called(ctx, action).Error(0)
}

type stubGeo struct{}

func (stubGeo) Resolve(ctx context.Context, ip string) models.GeoInfo {
	return models.GeoInfo{IP: ip, CountryCode: "US", Resolved: true}
}

type stubReputation struct{}

func (stubReputation) Lookup(ctx context.Context, ip string) models.ReputationInfo {
	return models.ReputationInfo{IP: ip}
}

type stubResolvedReputation struct{}

func (stubResolvedReputation) Lookup(ctx context.Context, ip string) models.ReputationInfo {
	return models.ReputationInfo{IP: ip, AbuseScore: 10, Confidence: 20, Resolved: true}
}

type stubTrust struct{}

func (stubTrust) IsTrusted(ctx context.Context, ip string) (bool, error) {
	return false, nil
}

func newPipelineWith(t *testing.T, events *mockEventRepo, profiles *mockProfileRepo, rules *mockRuleRepo, blocks *mockBlockRepo, rep threat.ReputationLookup) (*EventService, *RuntimeConfig) {
	t.Helper()
	logger := zap.NewNop()
	engineCfg := config.EngineConfig{
		MinProfileLogins: 10,
		AnomalyThreshold: 30,
		TimeWeight:       35,
		LocationWeight:   40,
		IPWeight:         25,
		DayWeight:        20,
		SessionGapWeight: 10,
	}

	scorer := behavior.NewScorer(engineCfg)
	evaluator := threat.NewEvaluator(stubGeo{}, rep, stubTrust{}, profiles, scorer, models.DefaultScoreBands, logger)
	rc := NewRuntimeConfig(rules, logger)
	engine := blocking.NewEngine(rc.Rules, blocks, events, nil, logger)
	learner := behavior.NewLearner(profiles, logger)

	return NewEventService(events, evaluator, engine, learner, nil, nil, logger), rc
}

func newPipeline(t *testing.T, events *mockEventRepo, profiles *mockProfileRepo, rules *mockRuleRepo, blocks *mockBlockRepo) *EventService {
	t.Helper()
	svc, _ := newPipelineWith(t, events, profiles, rules, blocks, stubReputation{})
	return svc
}

func TestSubmitHappyPath(t *testing.T) {
	events := new(mockEventRepo)
	profiles := new(mockProfileRepo)
	rules := new(mockRuleRepo)
	blocks := new(mockBlockRepo)

	events.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)
	events.On("AdvanceStatus", mock.Anything, mock.Anything, models.StatusGeoIPComplete).Return(nil)
	events.On("AdvanceStatus", mock.Anything, mock.Anything, models.StatusEvaluated).Return(nil)
	events.On("AdvanceStatus", mock.Anything, mock.Anything, models.StatusCompleted).Return(nil)
	profiles.On("GetProfile", mock.Anything, "alice").Return(nil, postgres.ErrNotFound)
	profiles.On("UpsertProfile", mock.Anything, mock.Anything).Return(nil)

	svc := newPipeline(t, events, profiles, rules, blocks)
	result, err := svc.Submit(context.Background(), SubmitRequest{
		IP:        "8.8.8.8",
		Username:  "alice",
		EventType: models.EventSuccess,
	})
	require.NoError(t, err)

	assert.NotEqual(t, "", result.EventID.String())
	assert.Equal(t, "8.8.8.8", result.Assessment.IP)
	assert.False(t, result.Decision.ShouldBlock)
	events.AssertCalled(t, "AdvanceStatus", mock.Anything, result.EventID.String(), models.StatusCompleted)
}

func TestSubmitRejectsInvalidIP(t *testing.T) {
	svc := newPipeline(t, new(mockEventRepo), new(mockProfileRepo), new(mockRuleRepo), new(mockBlockRepo))

	_, err := svc.Submit(context.Background(), SubmitRequest{
		IP:        "not-an-address",
		Username:  "alice",
		EventType: models.EventSuccess,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitRejectsMissingUsername(t *testing.T) {
	svc := newPipeline(t, new(mockEventRepo), new(mockProfileRepo), new(mockRuleRepo), new(mockBlockRepo))

	_, err := svc.Submit(context.Background(), SubmitRequest{
		IP:        "8.8.8.8",
		EventType: models.EventFailed,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitBatchSizeLimit(t *testing.T) {
	svc := newPipeline(t, new(mockEventRepo), new(mockProfileRepo), new(mockRuleRepo), new(mockBlockRepo))

	reqs := make([]SubmitRequest, MaxBatchSize+1)
	_, err := svc.SubmitBatch(context.Background(), reqs)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestSubmitBatchIsolatesBadEvents(t *testing.T) {
	events := new(mockEventRepo)
	profiles := new(mockProfileRepo)
	rules := new(mockRuleRepo)
	blocks := new(mockBlockRepo)

	events.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)
	events.On("AdvanceStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	profiles.On("GetProfile", mock.Anything, mock.Anything).Return(nil, postgres.ErrNotFound)
	profiles.On("UpsertProfile", mock.Anything, mock.Anything).Return(nil)

	svc := newPipeline(t, events, profiles, rules, blocks)
	results, err := svc.SubmitBatch(context.Background(), []SubmitRequest{
		{IP: "8.8.8.8", Username: "alice", EventType: models.EventSuccess},
		{IP: "bogus", Username: "bob", EventType: models.EventSuccess},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
}

func TestSubmitRawLineParsesAndSubmits(t *testing.T) {
	events := new(mockEventRepo)
	profiles := new(mockProfileRepo)
	rules := new(mockRuleRepo)
	blocks := new(mockBlockRepo)

	var created *models.AuthEvent
	events.On("CreateEvent", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*models.AuthEvent)
	}).Return(nil)
	events.On("AdvanceStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	profiles.On("GetProfile", mock.Anything, "alice").Return(nil, postgres.ErrNotFound)
	profiles.On("UpsertProfile", mock.Anything, mock.Anything).Return(nil)

	svc := newPipeline(t, events, profiles, rules, blocks)
	line := "Dec  5 10:00:01 host sshd[1]: Accepted password for alice from 8.8.8.8 port 22 ssh2"
	result, err := svc.SubmitRawLine(context.Background(), line, "bastion-1", models.SourceAgent)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.NotNil(t, created)
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, "8.8.8.8", created.SourceIP)
	assert.Equal(t, models.EventSuccess, created.EventType)
	assert.Equal(t, "bastion-1", created.Hostname)
}

func TestSubmitRawLineDropsUnparsed(t *testing.T) {
	svc := newPipeline(t, new(mockEventRepo), new(mockProfileRepo), new(mockRuleRepo), new(mockBlockRepo))

	_, err := svc.SubmitRawLine(context.Background(), "kernel: random noise", "bastion-1", models.SourceAgent)
	assert.ErrorIs(t, err, ErrUnparsedLine)
}

func TestRuntimeConfigRefresh(t *testing.T) {
	rules := new(mockRuleRepo)
	rules.On("ListEnabled", mock.Anything).Return([]models.BlockingRule{{RuleID: 1, Name: "r"}}, nil)
	rules.On("LoadScoreBands", mock.Anything).Return(models.DefaultScoreBands(), nil)

	rc := NewRuntimeConfig(rules, zap.NewNop())
	assert.True(t, rc.LastRefreshed().IsZero())

	require.NoError(t, rc.Refresh(context.Background()))
	assert.Len(t, rc.Rules(), 1)
	assert.NotEmpty(t, rc.Bands())
	assert.False(t, rc.LastRefreshed().IsZero())
}

func TestRuntimeConfigKeepsSnapshotOnFailure(t *testing.T) {
	rules := new(mockRuleRepo)
	rules.On("ListEnabled", mock.Anything).Return(nil, assert.AnError)
	rules.On("LoadScoreBands", mock.Anything).Return(nil, assert.AnError)

	rc := NewRuntimeConfig(rules, zap.NewNop())
	err := rc.Refresh(context.Background())
	assert.Error(t, err)

	// The seed bands survive the failed refresh.
	assert.NotEmpty(t, rc.Bands())
}

func TestSubmitRecordsEnrichmentStages(t *testing.T) {
	events := new(mockEventRepo)
	profiles := new(mockProfileRepo)
	rules := new(mockRuleRepo)
	blocks := new(mockBlockRepo)

	events.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)

	var stages []models.ProcessingStatus
	events.On("AdvanceStatus", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stages = append(stages, args.Get(2).(models.ProcessingStatus))
	}).Return(nil)
	profiles.On("GetProfile", mock.Anything, "alice").Return(nil, postgres.ErrNotFound)
	profiles.On("UpsertProfile", mock.Anything, mock.Anything).Return(nil)

	svc, _ := newPipelineWith(t, events, profiles, rules, blocks, stubResolvedReputation{})
	_, err := svc.Submit(context.Background(), SubmitRequest{
		IP:        "8.8.8.8",
		Username:  "alice",
		EventType: models.EventSuccess,
	})
	require.NoError(t, err)

	// Both enrichments resolved, so every stage is recorded in order.
	assert.Equal(t, []models.ProcessingStatus{
		models.StatusGeoIPComplete,
		models.StatusIntelComplete,
		models.StatusEvaluated,
		models.StatusCompleted,
	}, stages)
}

func TestSubmitSkipsUnresolvedEnrichmentStages(t *testing.T) {
	events := new(mockEventRepo)
	profiles := new(mockProfileRepo)
	rules := new(mockRuleRepo)
	blocks := new(mockBlockRepo)

	events.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)

	var stages []models.ProcessingStatus
	events.On("AdvanceStatus", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stages = append(stages, args.Get(2).(models.ProcessingStatus))
	}).Return(nil)
	profiles.On("GetProfile", mock.Anything, "alice").Return(nil, postgres.ErrNotFound)
	profiles.On("UpsertProfile", mock.Anything, mock.Anything).Return(nil)

	svc := newPipeline(t, events, profiles, rules, blocks)
	_, err := svc.Submit(context.Background(), SubmitRequest{
		IP:        "8.8.8.8",
		Username:  "alice",
		EventType: models.EventSuccess,
	})
	require.NoError(t, err)

	// Reputation never resolved, so the intel stage is not recorded.
	assert.Equal(t, []models.ProcessingStatus{
		models.StatusGeoIPComplete,
		models.StatusEvaluated,
		models.StatusCompleted,
	}, stages)
}

func TestSubmitEvaluatesRulesFromSnapshot(t *testing.T) {
	events := new(mockEventRepo)
	profiles := new(mockProfileRepo)
	rules := new(mockRuleRepo)
	blocks := new(mockBlockRepo)

	rule := models.BlockingRule{
		RuleID:               1,
		Name:                 "ssh-brute-force",
		RuleType:             models.RuleBruteForce,
		IsEnabled:            true,
		Priority:             10,
		BlockDurationMinutes: 60,
		AutoUnblock:          true,
	}
	rule.Condition = models.BruteForceCondition{FailedAttempts: 5, TimeWindowMinutes: 10}

	rules.On("ListEnabled", mock.Anything).Return([]models.BlockingRule{rule}, nil)
	rules.On("LoadScoreBands", mock.Anything).Return(models.DefaultScoreBands(), nil)
	events.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)
	events.On("AdvanceStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	events.On("CountRecentFailures", mock.Anything, "203.0.113.7", 10*time.Minute).Return(8, nil)
	profiles.On("GetProfile", mock.Anything, mock.Anything).Return(nil, postgres.ErrNotFound)
	profiles.On("UpsertProfile", mock.Anything, mock.Anything).Return(nil)
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	blocks.On("InsertAction", mock.Anything, mock.Anything).Return(nil)

	svc, rc := newPipelineWith(t, events, profiles, rules, blocks, stubReputation{})
	require.NoError(t, rc.Refresh(context.Background()))

	for i := 0; i < 2; i++ {
		result, err := svc.Submit(context.Background(), SubmitRequest{
			IP:        "203.0.113.7",
			Username:  "alice",
			EventType: models.EventFailed,
		})
		require.NoError(t, err)
		assert.True(t, result.Decision.ShouldBlock)
	}

	// Rule evaluation reads the refreshed snapshot; the store is hit
	// once, not per event.
	rules.AssertNumberOfCalls(t, "ListEnabled", 1)
}

func TestSubmitRequestWireFieldNames(t *testing.T) {
	payload := `{
		"timestamp": "2025-12-05T10:00:01Z",
		"source_ip": "203.0.113.7",
		"username": "alice",
		"status": "failed",
		"auth_method": "password",
		"port": 22,
		"protocol": "ssh2",
		"hostname": "bastion-1"
	}`

	var req SubmitRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))

	assert.Equal(t, "203.0.113.7", req.IP)
	assert.Equal(t, models.EventFailed, req.EventType)
	assert.Equal(t, "ssh2", req.Protocol)
	assert.Equal(t, "bastion-1", req.Hostname)
	assert.Equal(t, 22, req.Port)
}

func TestRuntimeConfigSortsBands(t *testing.T) {
	rules := new(mockRuleRepo)
	rules.On("ListEnabled", mock.Anything).Return([]models.BlockingRule{}, nil)
	rules.On("LoadScoreBands", mock.Anything).Return([]models.ScoreBand{
		{MaxScore: 100, Level: models.RiskCritical, Action: models.ActionBlock},
		{MaxScore: 24, Level: models.RiskMinimal, Action: models.ActionAllow},
		{MaxScore: 69, Level: models.RiskMedium, Action: models.ActionWatch},
	}, nil)

	rc := NewRuntimeConfig(rules, zap.NewNop())
	require.NoError(t, rc.Refresh(context.Background()))

	bands := rc.Bands()
	require.Len(t, bands, 3)
	for i := 1; i < len(bands); i++ {
		assert.Less(t, bands[i-1].MaxScore, bands[i].MaxScore)
	}
}
