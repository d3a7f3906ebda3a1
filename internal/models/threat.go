package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel buckets a composite score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RecommendedAction is the evaluator's verdict for the source address.
type RecommendedAction string

const (
	ActionAllow RecommendedAction = "allow"
	ActionWatch RecommendedAction = "watch"
	ActionBlock RecommendedAction = "block"
)

// GeoInfo is the geolocation enrichment for one address.
type GeoInfo struct {
	IP            string  `json:"ip"`
	CountryCode   string  `json:"country_code"`
	CountryName   string  `json:"country_name"`
	City          string  `json:"city"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ASN           uint    `json:"asn"`
	ISP           string  `json:"isp"`
	IsProxy       bool    `json:"is_proxy"`
	IsVPN         bool    `json:"is_vpn"`
	IsTor         bool    `json:"is_tor"`
	IsDatacenter  bool    `json:"is_datacenter"`
	IsHighRisk    bool    `json:"is_high_risk_country"`
	Resolved      bool    `json:"resolved"`
}

// ReputationInfo is the third-party reputation enrichment for one address.
type ReputationInfo struct {
	IP              string    `json:"ip"`
	AbuseScore      int       `json:"abuse_score"`
	ReportCount     int       `json:"report_count"`
	Confidence      int       `json:"confidence"`
	DetectionCount  int       `json:"detection_count"`
	IsTorExit       bool      `json:"is_tor_exit"`
	LastReportedAt  time.Time `json:"last_reported_at"`
	Resolved        bool      `json:"resolved"`
}

// ThreatAssessment is the ephemeral per-event evaluation result.
type ThreatAssessment struct {
	AssessmentID      uuid.UUID         `json:"assessment_id"`
	EventID           uuid.UUID         `json:"event_id"`
	IP                string            `json:"ip"`
	ReputationScore   int               `json:"reputation_score"`
	Geo               GeoInfo           `json:"geo"`
	Reputation        ReputationInfo    `json:"reputation"`
	AnomalyScore      int               `json:"anomaly_score"`
	AnomalyFactors    []AnomalyFactor   `json:"anomaly_factors"`
	Trusted           bool              `json:"trusted"`
	CompositeScore    int               `json:"composite_score"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	EvaluatedAt       time.Time         `json:"evaluated_at"`
}

// ScoreBand maps a composite-score interval to a risk level and action.
// Bands are configuration loaded from the store, kept monotonic by the
// runtime config loader.
type ScoreBand struct {
	MaxScore int               `json:"max_score"`
	Level    RiskLevel         `json:"level"`
	Action   RecommendedAction `json:"action"`
}

// DefaultScoreBands are the seed bands used until the store provides
// overrides. Higher score means stricter action.
func DefaultScoreBands() []ScoreBand {
	return []ScoreBand{
		{MaxScore: 19, Level: RiskMinimal, Action: ActionAllow},
		{MaxScore: 39, Level: RiskLow, Action: ActionAllow},
		{MaxScore: 59, Level: RiskMedium, Action: ActionWatch},
		{MaxScore: 79, Level: RiskHigh, Action: ActionBlock},
		{MaxScore: 100, Level: RiskCritical, Action: ActionBlock},
	}
}
