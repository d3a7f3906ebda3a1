package behavior

import (
	"fmt"
	"math"

	"sshwatch/internal/config"
	"sshwatch/internal/models"
)

// Scorer measures how far one login sits from a username's learned
// baseline. It is pure computation; profile loading and the trust gate
// live with the caller.
type Scorer struct {
	cfg config.EngineConfig
}

func NewScorer(cfg config.EngineConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score evaluates a login sample against its profile. A nil profile means
// the username has never logged in; a thin profile below the baseline
// minimum scores zero until enough history accumulates.
func (s *Scorer) Score(profile *models.BehavioralProfile, sample models.LoginSample) models.AnomalyScore {
	if profile == nil {
		return models.AnomalyScore{Reason: models.ReasonFirstTimeUser}
	}
	if profile.LoginCount < s.cfg.MinProfileLogins {
		return models.AnomalyScore{Reason: models.ReasonInsufficientBaseline}
	}

	factors := []models.AnomalyFactor{
		s.timeFactor(profile, sample),
		s.locationFactor(profile, sample),
		s.ipFactor(profile, sample),
		s.dayFactor(profile, sample),
	}
	if gap, ok := s.gapFactor(profile, sample); ok {
		factors = append(factors, gap)
	}

	var weightedSum, maxWeighted float64
	for _, f := range factors {
		weighted := f.Deviation * f.Weight
		weightedSum += weighted
		if weighted > maxWeighted {
			maxWeighted = weighted
		}
	}

	// One strong factor alone can raise an alert; the average still
	// rewards corroboration across factors.
	avg := weightedSum / float64(len(factors))
	score := clampScore(math.Max(avg, maxWeighted))

	var contributing []models.AnomalyFactor
	for _, f := range factors {
		if f.Deviation >= 0.5 {
			contributing = append(contributing, f)
		}
	}

	return models.AnomalyScore{
		Score:     score,
		IsAnomaly: score >= s.cfg.AnomalyThreshold,
		Factors:   contributing,
		Reason:    models.ReasonScored,
	}
}

func (s *Scorer) timeFactor(profile *models.BehavioralProfile, sample models.LoginSample) models.AnomalyFactor {
	hour := sample.Timestamp.Hour()
	dev := histogramDeviation(profile.HourHistogram, hour)
	return models.AnomalyFactor{
		Name:      "login_time",
		Deviation: dev,
		Weight:    s.cfg.TimeWeight,
		Detail:    fmt.Sprintf("login at %02d:00 seen in %.0f%% of history", hour, (1-dev)*100),
	}
}

func (s *Scorer) dayFactor(profile *models.BehavioralProfile, sample models.LoginSample) models.AnomalyFactor {
	day := int(sample.Timestamp.Weekday())
	dev := histogramDeviation(profile.DayHistogram, day)
	return models.AnomalyFactor{
		Name:      "login_day",
		Deviation: dev,
		Weight:    s.cfg.DayWeight,
		Detail:    fmt.Sprintf("login on %s seen in %.0f%% of history", sample.Timestamp.Weekday(), (1-dev)*100),
	}
}

func (s *Scorer) ipFactor(profile *models.BehavioralProfile, sample models.LoginSample) models.AnomalyFactor {
	f := models.AnomalyFactor{Name: "source_ip", Weight: s.cfg.IPWeight}
	if _, known := profile.KnownIPs[sample.IP]; known {
		f.Detail = fmt.Sprintf("address %s previously seen", sample.IP)
		return f
	}
	f.Deviation = 1
	f.Detail = fmt.Sprintf("first login from address %s", sample.IP)
	return f
}

func (s *Scorer) locationFactor(profile *models.BehavioralProfile, sample models.LoginSample) models.AnomalyFactor {
	f := models.AnomalyFactor{Name: "location", Weight: s.cfg.LocationWeight}
	if sample.Country == "" {
		f.Detail = "location unresolved"
		return f
	}
	key := models.LocationKey(sample.Country, sample.City)
	if _, known := profile.KnownLocations[key]; known {
		f.Detail = fmt.Sprintf("location %s/%s previously seen", sample.Country, sample.City)
		return f
	}
	f.Deviation = 1
	f.Detail = fmt.Sprintf("first login from %s/%s", sample.Country, sample.City)
	return f
}

func (s *Scorer) gapFactor(profile *models.BehavioralProfile, sample models.LoginSample) (models.AnomalyFactor, bool) {
	if profile.AvgSessionGapSec <= 0 || profile.LastLoginAt.IsZero() {
		return models.AnomalyFactor{}, false
	}
	gap := sample.Timestamp.Sub(profile.LastLoginAt).Seconds()
	if gap <= 0 {
		return models.AnomalyFactor{}, false
	}

	ratio := gap / profile.AvgSessionGapSec
	f := models.AnomalyFactor{Name: "session_gap", Weight: s.cfg.SessionGapWeight}
	switch {
	case ratio > 10:
		f.Deviation = 0.8
	case ratio > 5:
		f.Deviation = 0.5
	}
	f.Detail = fmt.Sprintf("gap %.0fx the learned average", ratio)
	return f, true
}

// histogramDeviation measures how unusual a bucket is relative to the
// most common bucket. A never-seen bucket deviates fully.
func histogramDeviation(hist map[int]int, bucket int) float64 {
	count, seen := hist[bucket]
	if !seen || count == 0 {
		return 1
	}
	max := 0
	for _, c := range hist {
		if c > max {
			max = c
		}
	}
	if max == 0 {
		return 1
	}
	return 1 - float64(count)/float64(max)
}

func clampScore(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}
