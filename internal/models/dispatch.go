package models

import "time"

// FirewallCommand is the structured deny order consumed asynchronously by
// the host-side enforcement agent.
type FirewallCommand struct {
	Agent     string     `json:"agent"`
	IP        string     `json:"ip"`
	Command   string     `json:"command"` // "deny" or "allow"
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil = permanent
	IssuedAt  time.Time  `json:"issued_at"`
}

// NotificationTrigger is the record enqueued for the notification
// collaborator. Delivery channels are outside this service.
type NotificationTrigger struct {
	TriggerType string    `json:"trigger_type"` // "block", "escalation"
	IP          string    `json:"ip"`
	Priority    string    `json:"priority"` // "low", "normal", "high", "urgent"
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// PriorityForRisk derives a notification priority from a risk level.
func PriorityForRisk(level RiskLevel) string {
	switch level {
	case RiskCritical:
		return "urgent"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "normal"
	default:
		return "low"
	}
}
