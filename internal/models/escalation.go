package models

import "time"

// PerimeterBan is the external perimeter-ban signal (fail2ban style) that
// triggers escalation evaluation.
type PerimeterBan struct {
	IP           string    `json:"ip"`
	Jail         string    `json:"jail"`
	FailureCount int       `json:"failure_count"`
	BannedAt     time.Time `json:"banned_at"`
	Hostname     string    `json:"hostname,omitempty"`
}

// Escalation recommended actions.
const (
	EscalationActionEscalate = "escalate_to_ufw"
	EscalationActionBan      = "temporary_ban"
)

// PermanentDuration marks a permanent recommendation in seconds.
const PermanentDuration = -1

// BanEscalationRecord is the ephemeral result of one escalation evaluation.
type BanEscalationRecord struct {
	IP                  string    `json:"ip"`
	ThreatScore         int       `json:"threat_score"`
	RiskLevel           RiskLevel `json:"risk_level"`
	RecommendedAction   string    `json:"recommended_action"`
	RecommendedDuration int       `json:"recommended_duration"` // seconds, -1 = permanent
	AutoEscalated       bool      `json:"auto_escalated"`
	Factors             []string  `json:"factors"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}
