package threat

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sshwatch/internal/behavior"
	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
)

// GeoResolver supplies geolocation enrichment for an address.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) models.GeoInfo
}

// ReputationLookup supplies the external reputation signal.
type ReputationLookup interface {
	Lookup(ctx context.Context, ip string) models.ReputationInfo
}

// TrustGate reports whether an address bypasses behavioral scoring.
type TrustGate interface {
	IsTrusted(ctx context.Context, ip string) (bool, error)
}

// BandSource yields the current score bands. Indirection lets the
// runtime config swap bands without rebuilding the evaluator.
type BandSource func() []models.ScoreBand

// Relative contribution of each signal to the composite score, plus the
// flat geolocation risk bonuses.
const (
	reputationShare = 0.45
	anomalyShare    = 0.35

	torPoints        = 25
	vpnProxyPoints   = 15
	datacenterPoints = 10
	highRiskPoints   = 10
)

// Evaluator merges reputation, geolocation, and behavioral signals into
// one composite score and action. Sub-lookup failures degrade that
// signal to zero; evaluation itself never fails the ingestion path.
type Evaluator struct {
	geo        GeoResolver
	reputation ReputationLookup
	trustGate  TrustGate
	profiles   postgres.ProfileRepository
	scorer     *behavior.Scorer
	bands      BandSource
	logger     *zap.Logger
}

func NewEvaluator(geo GeoResolver, reputation ReputationLookup, trustGate TrustGate, profiles postgres.ProfileRepository, scorer *behavior.Scorer, bands BandSource, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		geo:        geo,
		reputation: reputation,
		trustGate:  trustGate,
		profiles:   profiles,
		scorer:     scorer,
		bands:      bands,
		logger:     logger,
	}
}

// Evaluate produces the threat assessment for one event. Geolocation and
// reputation lookups run in parallel; the behavioral score waits on the
// geo result for the location factor.
func (e *Evaluator) Evaluate(ctx context.Context, event *models.AuthEvent) models.ThreatAssessment {
	assessment := models.ThreatAssessment{
		AssessmentID: uuid.New(),
		EventID:      event.EventID,
		IP:           event.SourceIP,
		EvaluatedAt:  time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assessment.Geo = e.geo.Resolve(gctx, event.SourceIP)
		return nil
	})
	g.Go(func() error {
		assessment.Reputation = e.reputation.Lookup(gctx, event.SourceIP)
		return nil
	})
	_ = g.Wait()

	assessment.ReputationScore = assessment.Reputation.AbuseScore

	anomaly := e.anomalyScore(ctx, event, assessment.Geo)
	assessment.AnomalyScore = anomaly.Score
	assessment.AnomalyFactors = anomaly.Factors
	assessment.Trusted = anomaly.Reason == models.ReasonTrustedSource

	assessment.CompositeScore = compositeScore(assessment.ReputationScore, anomaly.Score, assessment.Geo)
	assessment.RiskLevel, assessment.RecommendedAction = resolveBand(e.bands(), assessment.CompositeScore)
	return assessment
}

// anomalyScore applies the trust gate, then scores the login against the
// username's profile. Any failure degrades to a zero score.
func (e *Evaluator) anomalyScore(ctx context.Context, event *models.AuthEvent, geo models.GeoInfo) models.AnomalyScore {
	trusted, err := e.trustGate.IsTrusted(ctx, event.SourceIP)
	if err != nil {
		e.logger.Warn("trust gate lookup failed", zap.String("ip", event.SourceIP), zap.Error(err))
	}
	if trusted {
		return models.AnomalyScore{
			Reason: models.ReasonTrustedSource,
			Factors: []models.AnomalyFactor{
				{Name: models.ReasonTrustedSource, Detail: "address is in the trusted set"},
			},
		}
	}

	profile, err := e.profiles.GetProfile(ctx, event.Username)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		e.logger.Warn("profile lookup failed", zap.String("username", event.Username), zap.Error(err))
		return models.AnomalyScore{Reason: models.ReasonInsufficientBaseline}
	}

	sample := models.LoginSample{
		Username:  event.Username,
		IP:        event.SourceIP,
		Country:   geo.CountryCode,
		City:      geo.City,
		Timestamp: event.Timestamp,
	}
	return e.scorer.Score(profile, sample)
}

func compositeScore(reputation, anomaly int, geo models.GeoInfo) int {
	score := reputationShare*float64(reputation) + anomalyShare*float64(anomaly)

	if geo.IsTor {
		score += torPoints
	}
	if geo.IsVPN || geo.IsProxy {
		score += vpnProxyPoints
	}
	if geo.IsDatacenter {
		score += datacenterPoints
	}
	if geo.IsHighRisk {
		score += highRiskPoints
	}

	if score > 100 {
		return 100
	}
	return int(math.Round(score))
}

// resolveBand maps a score onto the first band whose ceiling covers it.
// Bands are kept sorted ascending by the config loader.
func resolveBand(bands []models.ScoreBand, score int) (models.RiskLevel, models.RecommendedAction) {
	for _, band := range bands {
		if score <= band.MaxScore {
			return band.Level, band.Action
		}
	}
	return models.RiskCritical, models.ActionBlock
}
