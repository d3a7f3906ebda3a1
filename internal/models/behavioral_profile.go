package models

import "time"

// BehavioralProfile is the learned login baseline for one username. Maps are
// persisted as JSONB columns; the string keys inside the sets double as set
// membership.
type BehavioralProfile struct {
	Username         string         `json:"username" db:"username"`
	HourHistogram    map[int]int    `json:"hour_histogram" db:"hour_histogram"`
	DayHistogram     map[int]int    `json:"day_histogram" db:"day_histogram"`
	KnownIPs         map[string]int `json:"known_ips" db:"known_ips"`
	KnownLocations   map[string]int `json:"known_locations" db:"known_locations"`
	AvgSessionGapSec float64        `json:"avg_session_gap_sec" db:"avg_session_gap_sec"`
	LastLoginAt      time.Time      `json:"last_login_at" db:"last_login_at"`
	LoginCount       int            `json:"login_count" db:"login_count"`
	Confidence       float64        `json:"confidence" db:"confidence"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// LocationKey renders the (country, city) pair used in KnownLocations.
func LocationKey(country, city string) string {
	return country + "|" + city
}

// LoginSample is one login observation the scorer evaluates against a
// profile.
type LoginSample struct {
	Username  string    `json:"username"`
	IP        string    `json:"ip"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	Timestamp time.Time `json:"timestamp"`
}

// AnomalyFactor names one deviation dimension with its raw deviation in
// [0,1] and a human-readable explanation.
type AnomalyFactor struct {
	Name      string  `json:"name"`
	Deviation float64 `json:"deviation"`
	Weight    float64 `json:"weight"`
	Detail    string  `json:"detail"`
}

// AnomalyScore is the scorer's result for one login sample.
type AnomalyScore struct {
	Score     int             `json:"score"`
	IsAnomaly bool            `json:"is_anomaly"`
	Factors   []AnomalyFactor `json:"factors"`
	Reason    string          `json:"reason"`
}

// Well-known scorer reasons.
const (
	ReasonFirstTimeUser        = "first_time_user"
	ReasonInsufficientBaseline = "insufficient_baseline"
	ReasonTrustedSource        = "trusted_source"
	ReasonScored               = "scored"
)
