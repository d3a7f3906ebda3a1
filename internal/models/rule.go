package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType selects the predicate a blocking rule evaluates with.
type RuleType string

const (
	RuleBruteForce      RuleType = "brute_force"
	RuleAPIReputation   RuleType = "api_reputation"
	RuleThreatThreshold RuleType = "threat_threshold"
)

// RuleCondition is the decoded, strongly-typed form of a rule's condition
// JSON. One variant exists per rule type; the engine dispatches on the
// concrete type instead of probing a generic map.
type RuleCondition interface {
	isRuleCondition()
}

// BruteForceCondition triggers on failed-attempt volume inside a window.
type BruteForceCondition struct {
	FailedAttempts    int `json:"failed_attempts"`
	TimeWindowMinutes int `json:"time_window_minutes"`
}

func (BruteForceCondition) isRuleCondition() {}

// ReputationCondition triggers on provider reputation score and confidence.
type ReputationCondition struct {
	MinScore      int `json:"min_score"`
	MinConfidence int `json:"min_confidence"`
}

func (ReputationCondition) isRuleCondition() {}

// DecodeCondition parses the stored condition JSON into the variant matching
// the rule type.
func DecodeCondition(ruleType RuleType, raw []byte) (RuleCondition, error) {
	switch ruleType {
	case RuleBruteForce:
		var c BruteForceCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode brute_force condition: %w", err)
		}
		if c.FailedAttempts <= 0 || c.TimeWindowMinutes <= 0 {
			return nil, fmt.Errorf("brute_force condition requires positive failed_attempts and time_window_minutes")
		}
		return c, nil
	case RuleAPIReputation, RuleThreatThreshold:
		var c ReputationCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode reputation condition: %w", err)
		}
		if c.MinScore <= 0 {
			return nil, fmt.Errorf("reputation condition requires positive min_score")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown rule type: %q", ruleType)
	}
}

// BlockingRule is one configured rule. Conditions is kept raw for storage;
// Condition carries the decoded variant after loading.
type BlockingRule struct {
	RuleID               int64           `json:"rule_id" db:"rule_id"`
	Name                 string          `json:"name" db:"name"`
	RuleType             RuleType        `json:"rule_type" db:"rule_type"`
	IsEnabled            bool            `json:"is_enabled" db:"is_enabled"`
	Priority             int             `json:"priority" db:"priority"` // lower evaluates first
	Conditions           json.RawMessage `json:"conditions" db:"conditions"`
	Condition            RuleCondition   `json:"-" db:"-"`
	BlockDurationMinutes int             `json:"block_duration_minutes" db:"block_duration_minutes"` // 0 = permanent
	AutoUnblock          bool            `json:"auto_unblock" db:"auto_unblock"`
	NotifyOnTrigger      bool            `json:"notify_on_trigger" db:"notify_on_trigger"`
	IsSystemRule         bool            `json:"is_system_rule" db:"is_system_rule"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// DecodeConditions fills Condition from the raw JSON.
func (r *BlockingRule) DecodeConditions() error {
	cond, err := DecodeCondition(r.RuleType, r.Conditions)
	if err != nil {
		return err
	}
	r.Condition = cond
	return nil
}
