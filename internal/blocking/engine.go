package blocking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
)

// Dispatcher publishes block-state changes to the enforcement and
// notification channels. Publishing is best effort.
type Dispatcher interface {
	BlockCreated(ctx context.Context, block *models.BlockRecord, rule *models.BlockingRule)
	BlockLifted(ctx context.Context, block *models.BlockRecord, reason string)
}

// RuleSource returns the enabled rules to evaluate, already ordered by
// priority. The runtime config serves its periodically refreshed
// snapshot through this, so rule evaluation never touches the store.
type RuleSource func() []models.BlockingRule

// Engine owns the per-IP block state machine. Rules evaluate in
// ascending priority; the store's partial unique index keeps the "one
// active block per IP" invariant under concurrent evaluation.
type Engine struct {
	rules      RuleSource
	blocks     postgres.BlockRepository
	events     postgres.EventRepository
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewEngine(rules RuleSource, blocks postgres.BlockRepository, events postgres.EventRepository, dispatcher Dispatcher, logger *zap.Logger) *Engine {
	return &Engine{
		rules:      rules,
		blocks:     blocks,
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// EvaluateRules walks the rule snapshot in priority order and applies
// the first rule whose predicate matches. agent names the host that
// reported the traffic; it rides on the block so enforcement commands
// reach the right firewall. Returns the decision whether or not a block
// was created; an existing active block short-circuits with
// Created=false.
func (e *Engine) EvaluateRules(ctx context.Context, ip, agent string, assessment *models.ThreatAssessment) (*models.BlockDecision, error) {
	rules := e.rules()

	for i := range rules {
		rule := &rules[i]
		matched, reason, err := e.matches(ctx, ip, rule, assessment)
		if err != nil {
			e.logger.Warn("rule predicate failed",
				zap.String("rule", rule.Name), zap.String("ip", ip), zap.Error(err))
			continue
		}
		if !matched {
			continue
		}
		return e.applyRule(ctx, ip, agent, rule, reason)
	}

	return &models.BlockDecision{Reason: "no rule matched"}, nil
}

func (e *Engine) matches(ctx context.Context, ip string, rule *models.BlockingRule, assessment *models.ThreatAssessment) (bool, string, error) {
	switch cond := rule.Condition.(type) {
	case models.BruteForceCondition:
		window := time.Duration(cond.TimeWindowMinutes) * time.Minute
		failures, err := e.events.CountRecentFailures(ctx, ip, window)
		if err != nil {
			return false, "", err
		}
		if failures >= cond.FailedAttempts {
			return true, fmt.Sprintf("%d failed attempts in %d minutes", failures, cond.TimeWindowMinutes), nil
		}
		return false, "", nil

	case models.ReputationCondition:
		if assessment == nil {
			return false, "", nil
		}
		rep := assessment.Reputation
		if rep.AbuseScore >= cond.MinScore && rep.Confidence >= cond.MinConfidence {
			return true, fmt.Sprintf("reputation score %d confidence %d", rep.AbuseScore, rep.Confidence), nil
		}
		return false, "", nil

	default:
		return false, "", fmt.Errorf("rule %q has no decoded condition", rule.Name)
	}
}

func (e *Engine) applyRule(ctx context.Context, ip, agent string, rule *models.BlockingRule, reason string) (*models.BlockDecision, error) {
	block := &models.BlockRecord{
		BlockID:     uuid.New(),
		IP:          ip,
		Agent:       agent,
		Reason:      reason,
		BlockSource: models.BlockSourceRule,
		RuleID:      &rule.RuleID,
		IsActive:    true,
		BlockedAt:   time.Now().UTC(),
		AutoUnblock: rule.AutoUnblock,
	}
	if rule.BlockDurationMinutes > 0 {
		until := block.BlockedAt.Add(time.Duration(rule.BlockDurationMinutes) * time.Minute)
		block.UnblockAt = &until
	}

	created, err := e.blocks.CreateBlockIfAbsent(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}

	decision := &models.BlockDecision{
		ShouldBlock: true,
		Rule:        rule,
		Block:       block,
		Created:     created,
		Reason:      reason,
	}
	if !created {
		// Another writer holds the active block; nothing to record.
		return decision, nil
	}

	e.audit(ctx, &models.BlockingAction{
		ActionID:     uuid.New(),
		IP:           ip,
		ActionType:   models.ActionBlocked,
		ActionSource: models.BlockSourceRule,
		Reason:       reason,
		RuleID:       &rule.RuleID,
		BlockID:      &block.BlockID,
	})
	if e.dispatcher != nil {
		e.dispatcher.BlockCreated(ctx, block, rule)
	}
	return decision, nil
}

// BlockManually creates an operator or escalation block outside rule
// evaluation. durationMinutes <= 0 means permanent.
func (e *Engine) BlockManually(ctx context.Context, ip, reason string, source models.BlockSource, durationMinutes int) (*models.BlockRecord, error) {
	block := &models.BlockRecord{
		BlockID:     uuid.New(),
		IP:          ip,
		Reason:      reason,
		BlockSource: source,
		IsActive:    true,
		BlockedAt:   time.Now().UTC(),
		AutoUnblock: durationMinutes > 0,
	}
	if durationMinutes > 0 {
		until := block.BlockedAt.Add(time.Duration(durationMinutes) * time.Minute)
		block.UnblockAt = &until
	}

	created, err := e.blocks.CreateBlockIfAbsent(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("create manual block: %w", err)
	}
	if !created {
		existing, err := e.blocks.GetActiveBlock(ctx, ip)
		if err != nil {
			return nil, fmt.Errorf("load existing block: %w", err)
		}
		return existing, ErrAlreadyBlocked
	}

	e.audit(ctx, &models.BlockingAction{
		ActionID:     uuid.New(),
		IP:           ip,
		ActionType:   models.ActionBlocked,
		ActionSource: source,
		Reason:       reason,
		BlockID:      &block.BlockID,
	})
	if e.dispatcher != nil {
		e.dispatcher.BlockCreated(ctx, block, nil)
	}
	return block, nil
}

// Unblock lifts the active block for an IP and records the action.
func (e *Engine) Unblock(ctx context.Context, ip, reason string, source models.BlockSource) (*models.BlockRecord, error) {
	block, err := e.blocks.Deactivate(ctx, ip)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrNotBlocked
		}
		return nil, fmt.Errorf("deactivate block: %w", err)
	}

	e.audit(ctx, &models.BlockingAction{
		ActionID:     uuid.New(),
		IP:           ip,
		ActionType:   models.ActionUnblocked,
		ActionSource: source,
		Reason:       reason,
		BlockID:      &block.BlockID,
	})
	if e.dispatcher != nil {
		e.dispatcher.BlockLifted(ctx, block, reason)
	}
	return block, nil
}

// CleanupExpiredBlocks deactivates every active block past its expiry.
// The sweep only transitions active to inactive so it is safe to run
// alongside new block creation.
func (e *Engine) CleanupExpiredBlocks(ctx context.Context) (int, error) {
	n, err := e.blocks.DeactivateExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired blocks: %w", err)
	}
	if n > 0 {
		e.logger.Info("expired blocks lifted", zap.Int("count", n))
	}
	return n, nil
}

// audit writes the action row; a failed audit write is logged, never
// propagated, so enforcement does not depend on audit availability.
func (e *Engine) audit(ctx context.Context, action *models.BlockingAction) {
	action.CreatedAt = time.Now().UTC()
	if err := e.blocks.InsertAction(ctx, action); err != nil {
		e.logger.Error("audit write failed",
			zap.String("ip", action.IP),
			zap.String("action", string(action.ActionType)),
			zap.Error(err))
	}
}
