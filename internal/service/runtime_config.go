package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
)

// RuntimeConfig is the periodically reloaded snapshot of store-backed
// engine configuration. Readers take the read lock only long enough to
// copy a slice header, so a reload never blocks the decision path.
type RuntimeConfig struct {
	rules  postgres.RuleRepository
	logger *zap.Logger

	mu            sync.RWMutex
	ruleSnapshot  []models.BlockingRule
	scoreBands    []models.ScoreBand
	lastRefreshed time.Time
}

func NewRuntimeConfig(rules postgres.RuleRepository, logger *zap.Logger) *RuntimeConfig {
	return &RuntimeConfig{
		rules:      rules,
		logger:     logger,
		scoreBands: models.DefaultScoreBands(),
	}
}

// Refresh reloads rules and score bands from the store. A partial
// failure keeps the previous snapshot for the failed part.
func (rc *RuntimeConfig) Refresh(ctx context.Context) error {
	rules, rulesErr := rc.rules.ListEnabled(ctx)
	bands, bandsErr := rc.rules.LoadScoreBands(ctx)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rulesErr == nil {
		rc.ruleSnapshot = rules
	} else {
		rc.logger.Warn("rule snapshot refresh failed", zap.Error(rulesErr))
	}
	if bandsErr == nil {
		// Band resolution walks ascending MaxScore; never trust the
		// stored order.
		sort.Slice(bands, func(i, j int) bool { return bands[i].MaxScore < bands[j].MaxScore })
		rc.scoreBands = bands
	} else {
		rc.logger.Warn("score band refresh failed", zap.Error(bandsErr))
	}

	if rulesErr != nil || bandsErr != nil {
		return fmt.Errorf("runtime config refresh incomplete")
	}
	rc.lastRefreshed = time.Now().UTC()
	return nil
}

// Bands returns the current score bands.
func (rc *RuntimeConfig) Bands() []models.ScoreBand {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.scoreBands
}

// Rules returns the current enabled-rule snapshot.
func (rc *RuntimeConfig) Rules() []models.BlockingRule {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.ruleSnapshot
}

// LastRefreshed reports when the last full refresh succeeded.
func (rc *RuntimeConfig) LastRefreshed() time.Time {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.lastRefreshed
}
