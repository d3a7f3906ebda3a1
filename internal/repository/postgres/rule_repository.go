package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
	"sshwatch/internal/util"
)

// RuleRepository stores blocking rules and the engine's key/value runtime
// settings (score bands).
type RuleRepository interface {
	ListEnabled(ctx context.Context) ([]models.BlockingRule, error)
	ListAll(ctx context.Context) ([]models.BlockingRule, error)
	Create(ctx context.Context, rule *models.BlockingRule) error
	Delete(ctx context.Context, ruleID int64) error
	SeedDefaults(ctx context.Context) error
	LoadScoreBands(ctx context.Context) ([]models.ScoreBand, error)
}

type ruleRepository struct {
	db     *client.PostgresClient
	logger *zap.Logger
}

// NewRuleRepository creates the Postgres-backed rule repository.
func NewRuleRepository(db *client.PostgresClient, logger *zap.Logger) RuleRepository {
	return &ruleRepository{db: db, logger: logger}
}

const ruleColumns = `
	rule_id, name, rule_type, is_enabled, priority, conditions,
	block_duration_minutes, auto_unblock, notify_on_trigger, is_system_rule,
	created_at, updated_at
`

func (r *ruleRepository) ListEnabled(ctx context.Context) ([]models.BlockingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM blocking_rules
		WHERE is_enabled ORDER BY priority ASC, rule_id ASC`
	return r.listRules(ctx, query)
}

func (r *ruleRepository) ListAll(ctx context.Context) ([]models.BlockingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM blocking_rules
		ORDER BY priority ASC, rule_id ASC`
	return r.listRules(ctx, query)
}

func (r *ruleRepository) listRules(ctx context.Context, query string) ([]models.BlockingRule, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list blocking rules: %w", err)
	}
	defer rows.Close()

	var rules []models.BlockingRule
	for rows.Next() {
		var rule models.BlockingRule
		if err := rows.Scan(
			&rule.RuleID, &rule.Name, &rule.RuleType, &rule.IsEnabled,
			&rule.Priority, &rule.Conditions, &rule.BlockDurationMinutes,
			&rule.AutoUnblock, &rule.NotifyOnTrigger, &rule.IsSystemRule,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan blocking rule: %w", err)
		}

		// Rules with undecodable conditions are skipped, not fatal: one bad
		// row must not take down rule evaluation.
		if err := rule.DecodeConditions(); err != nil {
			r.logger.Warn("skipping rule with invalid conditions",
				util.Int64("rule_id", rule.RuleID),
				util.String("name", rule.Name),
				util.ErrorField(err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *ruleRepository) Create(ctx context.Context, rule *models.BlockingRule) error {
	query := `
		INSERT INTO blocking_rules (
			name, rule_type, is_enabled, priority, conditions,
			block_duration_minutes, auto_unblock, notify_on_trigger,
			is_system_rule, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING rule_id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		rule.Name, rule.RuleType, rule.IsEnabled, rule.Priority, rule.Conditions,
		rule.BlockDurationMinutes, rule.AutoUnblock, rule.NotifyOnTrigger,
		rule.IsSystemRule,
	).Scan(&rule.RuleID)
	if err != nil {
		return fmt.Errorf("insert blocking rule: %w", err)
	}
	return nil
}

// Delete refuses to remove system rules.
func (r *ruleRepository) Delete(ctx context.Context, ruleID int64) error {
	var isSystem bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT is_system_rule FROM blocking_rules WHERE rule_id = $1`, ruleID,
	).Scan(&isSystem)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("lookup blocking rule: %w", err)
	}
	if isSystem {
		return ErrSystemRule
	}

	_, err = r.db.Pool.Exec(ctx, `DELETE FROM blocking_rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("delete blocking rule: %w", err)
	}
	return nil
}

// SeedDefaults installs the two system rules on an empty table. The
// count check and the inserts run in one transaction so concurrent
// bootstraps cannot double-seed.
func (r *ruleRepository) SeedDefaults(ctx context.Context) error {
	defaults := []models.BlockingRule{
		{
			Name:                 "ssh-brute-force",
			RuleType:             models.RuleBruteForce,
			IsEnabled:            true,
			Priority:             10,
			Conditions:           json.RawMessage(`{"failed_attempts":5,"time_window_minutes":10}`),
			BlockDurationMinutes: 60,
			AutoUnblock:          true,
			NotifyOnTrigger:      true,
			IsSystemRule:         true,
		},
		{
			Name:                 "critical-reputation",
			RuleType:             models.RuleAPIReputation,
			IsEnabled:            true,
			Priority:             20,
			Conditions:           json.RawMessage(`{"min_score":80,"min_confidence":75}`),
			BlockDurationMinutes: 0, // permanent
			AutoUnblock:          false,
			NotifyOnTrigger:      true,
			IsSystemRule:         true,
		},
	}

	seeded := false
	err := r.db.ExecTx(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM blocking_rules`).Scan(&count); err != nil {
			return fmt.Errorf("count blocking rules: %w", err)
		}
		if count > 0 {
			return nil
		}

		query := `
			INSERT INTO blocking_rules (
				name, rule_type, is_enabled, priority, conditions,
				block_duration_minutes, auto_unblock, notify_on_trigger,
				is_system_rule, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			RETURNING rule_id
		`
		for i := range defaults {
			rule := &defaults[i]
			err := tx.QueryRow(ctx, query,
				rule.Name, rule.RuleType, rule.IsEnabled, rule.Priority, rule.Conditions,
				rule.BlockDurationMinutes, rule.AutoUnblock, rule.NotifyOnTrigger,
				rule.IsSystemRule,
			).Scan(&rule.RuleID)
			if err != nil {
				return fmt.Errorf("insert blocking rule: %w", err)
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return err
	}

	if seeded {
		r.logger.Info("seeded default blocking rules", util.Int("count", len(defaults)))
	}
	return nil
}

// LoadScoreBands reads the configured composite-score bands, falling back to
// the built-in defaults when unset.
func (r *ruleRepository) LoadScoreBands(ctx context.Context) ([]models.ScoreBand, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT value FROM engine_settings WHERE key = 'score_bands'`,
	).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.DefaultScoreBands(), nil
		}
		return nil, fmt.Errorf("load score bands: %w", err)
	}

	var bands []models.ScoreBand
	if err := json.Unmarshal(raw, &bands); err != nil {
		return nil, fmt.Errorf("decode score bands: %w", err)
	}
	if len(bands) == 0 {
		return models.DefaultScoreBands(), nil
	}

	// resolveBand walks ascending MaxScore; the stored JSON carries no
	// order guarantee.
	sort.Slice(bands, func(i, j int) bool { return bands[i].MaxScore < bands[j].MaxScore })
	return bands, nil
}
