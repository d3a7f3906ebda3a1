package models

import "time"

// SubjectKind distinguishes IP trust records from /24 network records.
type SubjectKind string

const (
	SubjectIP      SubjectKind = "ip"
	SubjectNetwork SubjectKind = "network"
)

// TrustRecord scores how much history says an address (or /24) is benign.
// Manual records are operator-owned and never rewritten by the learner.
type TrustRecord struct {
	Subject           string      `json:"subject" db:"subject"`
	Kind              SubjectKind `json:"kind" db:"kind"`
	TrustScore        int         `json:"trust_score" db:"trust_score"`
	SuccessfulLogins  int         `json:"successful_logins" db:"successful_logins"`
	FailedLogins      int         `json:"failed_logins" db:"failed_logins"`
	UniqueUsers       int         `json:"unique_users" db:"unique_users"`
	DaysActive        int         `json:"days_active" db:"days_active"`
	IsAutoTrusted     bool        `json:"is_auto_trusted" db:"is_auto_trusted"`
	IsManuallyTrusted bool        `json:"is_manually_trusted" db:"is_manually_trusted"`
	Reason            string      `json:"reason" db:"reason"`
	FirstSeen         time.Time   `json:"first_seen" db:"first_seen"`
	LastSeen          time.Time   `json:"last_seen" db:"last_seen"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// Trusted reports whether the record grants the anomaly-scoring bypass.
func (t *TrustRecord) Trusted() bool {
	return t.IsManuallyTrusted || t.IsAutoTrusted
}

// IPActivity is the raw 30-day aggregate the trust learner scores.
type IPActivity struct {
	IP               string    `json:"ip"`
	SuccessfulLogins int       `json:"successful_logins"`
	FailedLogins     int       `json:"failed_logins"`
	UniqueUsers      int       `json:"unique_users"`
	DaysActive       int       `json:"days_active"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}
