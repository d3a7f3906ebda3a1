package blocking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
)

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

func bruteForceRule(failedAttempts, windowMinutes int) models.BlockingRule {
	raw, _ := json.Marshal(models.BruteForceCondition{
		FailedAttempts:    failedAttempts,
		TimeWindowMinutes: windowMinutes,
	})
	rule := models.BlockingRule{
		RuleID:               1,
		Name:                 "ssh-brute-force",
		RuleType:             models.RuleBruteForce,
		IsEnabled:            true,
		Priority:             10,
		Conditions:           raw,
		BlockDurationMinutes: 60,
		AutoUnblock:          true,
	}
	rule.Condition = models.BruteForceCondition{FailedAttempts: failedAttempts, TimeWindowMinutes: windowMinutes}
	return rule
}

func reputationRule(minScore, minConfidence int) models.BlockingRule {
	rule := models.BlockingRule{
		RuleID:    2,
		Name:      "critical-reputation",
		RuleType:  models.RuleAPIReputation,
		IsEnabled: true,
		Priority:  20,
	}
	rule.Condition = models.ReputationCondition{MinScore: minScore, MinConfidence: minConfidence}
	return rule
}

// recordingDispatcher captures published block-state changes.
type recordingDispatcher struct {
	created []*models.BlockRecord
	lifted  []*models.BlockRecord
}

func (d *recordingDispatcher) BlockCreated(_ context.Context, block *models.BlockRecord, _ *models.BlockingRule) {
	d.created = append(d.created, block)
}

func (d *recordingDispatcher) BlockLifted(_ context.Context, block *models.BlockRecord, _ string) {
	d.lifted = append(d.lifted, block)
}

func staticRules(rules ...models.BlockingRule) RuleSource {
	return func() []models.BlockingRule { return rules }
}

func newTestEngine(rules RuleSource, blocks *mockBlockRepo, events *mockEventRepo) *Engine {
	return NewEngine(rules, blocks, events, nil, zap.NewNop())
}

func TestEvaluateRulesBruteForceBlocks(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	events.On("CountRecentFailures", mock.Anything, "203.0.113.7", 10*time.Minute).Return(6, nil)
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	blocks.On("InsertAction", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(staticRules(bruteForceRule(5, 10)), blocks, events)
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", nil)
	require.NoError(t, err)

	assert.True(t, decision.ShouldBlock)
	assert.True(t, decision.Created)
	require.NotNil(t, decision.Block)
	assert.True(t, decision.Block.AutoUnblock)
	require.NotNil(t, decision.Block.UnblockAt)

	// Exactly one block row and one audit row.
	blocks.AssertNumberOfCalls(t, "CreateBlockIfAbsent", 1)
	blocks.AssertNumberOfCalls(t, "InsertAction", 1)
}

func TestEvaluateRulesBelowThresholdNoBlock(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	events.On("CountRecentFailures", mock.Anything, "203.0.113.7", 10*time.Minute).Return(4, nil)

	engine := newTestEngine(staticRules(bruteForceRule(5, 10)), blocks, events)
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", nil)
	require.NoError(t, err)

	assert.False(t, decision.ShouldBlock)
	blocks.AssertNotCalled(t, "CreateBlockIfAbsent", mock.Anything, mock.Anything)
}

func TestEvaluateRulesIdempotentWhenAlreadyBlocked(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	events.On("CountRecentFailures", mock.Anything, mock.Anything, mock.Anything).Return(9, nil)
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(false, nil)

	engine := newTestEngine(staticRules(bruteForceRule(5, 10)), blocks, events)
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", nil)
	require.NoError(t, err)

	assert.True(t, decision.ShouldBlock)
	assert.False(t, decision.Created)
	blocks.AssertNotCalled(t, "InsertAction", mock.Anything, mock.Anything)
}

func TestEvaluateRulesPriorityOrderWins(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	events.On("CountRecentFailures", mock.Anything, mock.Anything, mock.Anything).Return(7, nil)
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	blocks.On("InsertAction", mock.Anything, mock.Anything).Return(nil)

	assessment := &models.ThreatAssessment{
		Reputation: models.ReputationInfo{AbuseScore: 95, Confidence: 95},
	}

	// Both rules would match; the lower-priority brute-force rule is
	// listed first and must decide.
	engine := newTestEngine(staticRules(bruteForceRule(5, 10), reputationRule(80, 75)), blocks, events)
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", assessment)
	require.NoError(t, err)

	require.NotNil(t, decision.Rule)
	assert.Equal(t, "ssh-brute-force", decision.Rule.Name)
}

func TestEvaluateRulesReputationPredicate(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	blocks.On("InsertAction", mock.Anything, mock.Anything).Return(nil)

	engine := newTestEngine(staticRules(reputationRule(80, 75)), blocks, events)

	// Score above, confidence below: no match.
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", &models.ThreatAssessment{
		Reputation: models.ReputationInfo{AbuseScore: 90, Confidence: 50},
	})
	require.NoError(t, err)
	assert.False(t, decision.ShouldBlock)

	// Both above: match. Zero duration means a permanent block.
	decision, err = engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", &models.ThreatAssessment{
		Reputation: models.ReputationInfo{AbuseScore: 90, Confidence: 90},
	})
	require.NoError(t, err)
	assert.True(t, decision.ShouldBlock)
	require.NotNil(t, decision.Block)
	assert.True(t, decision.Block.Permanent())
}

func TestBlockManuallyConflict(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	existing := &models.BlockRecord{IP: "203.0.113.7", IsActive: true}
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(false, nil)
	blocks.On("GetActiveBlock", mock.Anything, "203.0.113.7").Return(existing, nil)

	engine := newTestEngine(staticRules(), blocks, events)
	block, err := engine.BlockManually(context.Background(), "203.0.113.7", "operator request", models.BlockSourceManual, 0)

	assert.ErrorIs(t, err, ErrAlreadyBlocked)
	assert.Equal(t, existing, block)
}

func TestUnblockWritesAudit(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	blocks.On("Deactivate", mock.Anything, "203.0.113.7").Return(&models.BlockRecord{IP: "203.0.113.7"}, nil)

	var audited *models.BlockingAction
	blocks.On("InsertAction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		audited = args.Get(1).(*models.BlockingAction)
	}).Return(nil)

	engine := newTestEngine(staticRules(), blocks, events)
	_, err := engine.Unblock(context.Background(), "203.0.113.7", "false positive", models.BlockSourceManual)
	require.NoError(t, err)

	require.NotNil(t, audited)
	assert.Equal(t, models.ActionUnblocked, audited.ActionType)
	assert.Equal(t, "false positive", audited.Reason)
}

func TestUnblockNoActiveBlock(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	blocks.On("Deactivate", mock.Anything, "203.0.113.7").Return(nil, postgres.ErrNotFound)

	engine := newTestEngine(staticRules(), blocks, events)
	_, err := engine.Unblock(context.Background(), "203.0.113.7", "noop", models.BlockSourceManual)
	assert.ErrorIs(t, err, ErrNotBlocked)
}

func TestCleanupExpiredBlocks(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	blocks.On("DeactivateExpired", mock.Anything).Return(3, nil)

	engine := newTestEngine(staticRules(), blocks, events)
	n, err := engine.CleanupExpiredBlocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEvaluateRulesFollowsRuleSnapshot(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)

	events.On("CountRecentFailures", mock.Anything, mock.Anything, mock.Anything).Return(9, nil)
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	blocks.On("InsertAction", mock.Anything, mock.Anything).Return(nil)

	var snapshot []models.BlockingRule
	engine := newTestEngine(func() []models.BlockingRule { return snapshot }, blocks, events)

	// Empty snapshot: nothing to match, no store access.
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", nil)
	require.NoError(t, err)
	assert.False(t, decision.ShouldBlock)
	blocks.AssertNotCalled(t, "CreateBlockIfAbsent", mock.Anything, mock.Anything)

	// A refreshed snapshot takes effect on the next evaluation.
	snapshot = []models.BlockingRule{bruteForceRule(5, 10)}
	decision, err = engine.EvaluateRules(context.Background(), "203.0.113.7", "edge-1", nil)
	require.NoError(t, err)
	assert.True(t, decision.Created)
}

func TestEvaluateRulesCarriesReportingAgent(t *testing.T) {
	blocks := new(mockBlockRepo)
	events := new(mockEventRepo)
	dispatcher := new(recordingDispatcher)

	events.On("CountRecentFailures", mock.Anything, mock.Anything, mock.Anything).Return(9, nil)
	blocks.On("CreateBlockIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	blocks.On("InsertAction", mock.Anything, mock.Anything).Return(nil)

	engine := NewEngine(staticRules(bruteForceRule(5, 10)), blocks, events, dispatcher, zap.NewNop())
	decision, err := engine.EvaluateRules(context.Background(), "203.0.113.7", "bastion-1", nil)
	require.NoError(t, err)

	require.NotNil(t, decision.Block)
	assert.Equal(t, "bastion-1", decision.Block.Agent)
	require.Len(t, dispatcher.created, 1)
	assert.Equal(t, "bastion-1", dispatcher.created[0].Agent)
}
