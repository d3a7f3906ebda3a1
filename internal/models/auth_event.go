package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies the outcome of one authentication attempt.
type EventType string

const (
	EventSuccess EventType = "success"
	EventFailed  EventType = "failed"
)

// AuthMethod is the mechanism the client attempted.
type AuthMethod string

const (
	MethodPassword  AuthMethod = "password"
	MethodPublicKey AuthMethod = "publickey"
	MethodOther     AuthMethod = "other"
)

// FailureReason distinguishes why a failed attempt failed.
type FailureReason string

const (
	FailureInvalidUser     FailureReason = "invalid_user"
	FailureInvalidPassword FailureReason = "invalid_password"
	FailureNone            FailureReason = ""
)

// EventSource tags where a log line came from.
type EventSource string

const (
	SourceAgent      EventSource = "agent"
	SourceSynthetic  EventSource = "synthetic"
	SourceSimulation EventSource = "simulation"
)

// ProcessingStatus tracks pipeline progress. It only ever moves forward;
// stages may be skipped when an enrichment fails but the status never
// regresses.
type ProcessingStatus string

const (
	StatusPending       ProcessingStatus = "pending"
	StatusGeoIPComplete ProcessingStatus = "geoip_complete"
	StatusIntelComplete ProcessingStatus = "intel_complete"
	StatusEvaluated     ProcessingStatus = "evaluated"
	StatusCompleted     ProcessingStatus = "completed"
)

// statusRank orders statuses so forward-only transitions can be enforced in
// one conditional UPDATE.
var statusRank = map[ProcessingStatus]int{
	StatusPending:       0,
	StatusGeoIPComplete: 1,
	StatusIntelComplete: 2,
	StatusEvaluated:     3,
	StatusCompleted:     4,
}

// Rank returns the ordering position of the status, -1 for unknown values.
func (s ProcessingStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Advances reports whether moving to next is a forward transition.
func (s ProcessingStatus) Advances(next ProcessingStatus) bool {
	return next.Rank() > s.Rank()
}

// AuthEvent is one normalized SSH authentication attempt.
type AuthEvent struct {
	EventID          uuid.UUID        `json:"event_id" db:"event_id"`
	Timestamp        time.Time        `json:"timestamp" db:"timestamp"`
	SourceIP         string           `json:"source_ip" db:"source_ip"`
	SourceIPBytes    []byte           `json:"-" db:"source_ip_bytes"`
	Username         string           `json:"username" db:"username"`
	EventType        EventType        `json:"event_type" db:"event_type"`
	AuthMethod       AuthMethod       `json:"auth_method" db:"auth_method"`
	FailureReason    FailureReason    `json:"failure_reason,omitempty" db:"failure_reason"`
	Port             int              `json:"port,omitempty" db:"port"`
	Protocol         string           `json:"protocol,omitempty" db:"protocol"`
	Hostname         string           `json:"hostname,omitempty" db:"hostname"`
	RawLog           string           `json:"raw_log,omitempty" db:"raw_log"`
	Source           EventSource      `json:"source" db:"source"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// ParsedLine is the parser's output before an AuthEvent is persisted.
type ParsedLine struct {
	Timestamp     time.Time
	SourceIP      string
	Username      string
	EventType     EventType
	AuthMethod    AuthMethod
	FailureReason FailureReason
	Port          int
	RawLog        string
	Source        EventSource
}
