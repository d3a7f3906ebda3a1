package models

import (
	"time"

	"github.com/google/uuid"
)

// BlockSource records which path created a block.
type BlockSource string

const (
	BlockSourceSystem      BlockSource = "system"
	BlockSourceManual      BlockSource = "manual"
	BlockSourceRule        BlockSource = "rule"
	BlockSourceAPI         BlockSource = "api"
	BlockSourceMLThreshold BlockSource = "ml_threshold"
)

// BlockRecord is one active or historical block. The store enforces at most
// one active row per IP with a partial unique index.
type BlockRecord struct {
	BlockID     uuid.UUID   `json:"block_id" db:"block_id"`
	IP          string      `json:"ip" db:"ip"`
	Agent       string      `json:"agent" db:"agent"`
	Reason      string      `json:"reason" db:"reason"`
	BlockSource BlockSource `json:"block_source" db:"block_source"`
	RuleID      *int64      `json:"rule_id,omitempty" db:"rule_id"`
	IsActive    bool        `json:"is_active" db:"is_active"`
	BlockedAt   time.Time   `json:"blocked_at" db:"blocked_at"`
	UnblockAt   *time.Time  `json:"unblock_at,omitempty" db:"unblock_at"` // nil = permanent
	AutoUnblock bool        `json:"auto_unblock" db:"auto_unblock"`
	UnblockedAt *time.Time  `json:"unblocked_at,omitempty" db:"unblocked_at"`
}

// Permanent reports whether the block has no expiry.
func (b *BlockRecord) Permanent() bool {
	return b.UnblockAt == nil
}

// ActionType classifies audit entries.
type ActionType string

const (
	ActionBlocked   ActionType = "blocked"
	ActionUnblocked ActionType = "unblocked"
	ActionModified  ActionType = "modified"
)

// BlockingAction is an immutable audit entry written for every block-state
// transition, manual or automatic.
type BlockingAction struct {
	ActionID     uuid.UUID   `json:"action_id" db:"action_id"`
	IP           string      `json:"ip" db:"ip"`
	ActionType   ActionType  `json:"action_type" db:"action_type"`
	ActionSource BlockSource `json:"action_source" db:"action_source"`
	Reason       string      `json:"reason" db:"reason"`
	Username     string      `json:"username,omitempty" db:"username"`
	RuleID       *int64      `json:"rule_id,omitempty" db:"rule_id"`
	BlockID      *uuid.UUID  `json:"block_id,omitempty" db:"block_id"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// BlockDecision is the rule engine's answer for one evaluated event.
type BlockDecision struct {
	ShouldBlock bool         `json:"should_block"`
	Rule        *BlockingRule `json:"rule,omitempty"`
	Block       *BlockRecord  `json:"block,omitempty"`
	Created     bool          `json:"created"`
	Reason      string        `json:"reason"`
}
