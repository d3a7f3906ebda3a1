package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/blocking"
	"sshwatch/internal/models"
	"sshwatch/internal/threat"
)

// AuditSink records every escalation evaluation. Writes are best effort;
// a sink failure never alters the evaluation result.
type AuditSink interface {
	RecordEscalation(ctx context.Context, ban models.PerimeterBan, record *models.BanEscalationRecord)
}

// ManualBlocker is the blocking engine's manual-block path.
type ManualBlocker interface {
	BlockManually(ctx context.Context, ip, reason string, source models.BlockSource, durationMinutes int) (*models.BlockRecord, error)
}

// BlockHistory exposes the repeat-offender lookup.
type BlockHistory interface {
	CountPriorBlocks(ctx context.Context, ip string) (int, error)
}

// Notifier pushes escalation decisions to operators. Delivery is best
// effort; the evaluation result does not depend on it.
type Notifier interface {
	NotifyEscalation(ctx context.Context, record *models.BanEscalationRecord)
}

// Score thresholds and component points for escalation decisions.
const (
	escalateScore       = 85
	repeatEscalateScore = 60
	repeatOffenderFloor = 3

	nightStartHour = 22
	nightEndHour   = 6
)

// Duration tiers in seconds for bans that stay temporary.
const (
	shortBanSeconds  = 3600
	mediumBanSeconds = 6 * 3600
	longBanSeconds   = 24 * 3600
)

// Evaluator decides whether a short-lived perimeter ban should become a
// permanent block.
type Evaluator struct {
	blocks     BlockHistory
	geo        threat.GeoResolver
	reputation threat.ReputationLookup
	engine     ManualBlocker
	audit      AuditSink
	notifier   Notifier
	logger     *zap.Logger
}

func NewEvaluator(blocks BlockHistory, geo threat.GeoResolver, reputation threat.ReputationLookup, engine ManualBlocker, audit AuditSink, notifier Notifier, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		blocks:     blocks,
		geo:        geo,
		reputation: reputation,
		engine:     engine,
		audit:      audit,
		notifier:   notifier,
		logger:     logger,
	}
}

// Evaluate scores one perimeter-ban signal and, when warranted, promotes
// it to a permanent block. Every evaluation is recorded regardless of
// the outcome.
func (e *Evaluator) Evaluate(ctx context.Context, ban models.PerimeterBan) (*models.BanEscalationRecord, error) {
	priors, err := e.blocks.CountPriorBlocks(ctx, ban.IP)
	if err != nil {
		e.logger.Warn("prior-block count failed", zap.String("ip", ban.IP), zap.Error(err))
		priors = 0
	}

	geo := e.geo.Resolve(ctx, ban.IP)
	rep := e.reputation.Lookup(ctx, ban.IP)

	score, factors := scoreBan(ban, priors, geo, rep, time.Now())

	record := &models.BanEscalationRecord{
		IP:          ban.IP,
		ThreatScore: score,
		RiskLevel:   riskLevelFor(score),
		Factors:     factors,
		EvaluatedAt: time.Now().UTC(),
	}

	if score >= escalateScore || (priors >= repeatOffenderFloor && score >= repeatEscalateScore) {
		record.RecommendedAction = models.EscalationActionEscalate
		record.RecommendedDuration = models.PermanentDuration
		record.AutoEscalated = e.escalate(ctx, ban, record)
	} else {
		record.RecommendedAction = models.EscalationActionBan
		record.RecommendedDuration = banDuration(score)
	}

	if e.audit != nil {
		e.audit.RecordEscalation(ctx, ban, record)
	}
	if e.notifier != nil && record.AutoEscalated {
		e.notifier.NotifyEscalation(ctx, record)
	}
	return record, nil
}

func (e *Evaluator) escalate(ctx context.Context, ban models.PerimeterBan, record *models.BanEscalationRecord) bool {
	reason := fmt.Sprintf("escalated from jail %s, threat score %d", ban.Jail, record.ThreatScore)
	_, err := e.engine.BlockManually(ctx, ban.IP, reason, models.BlockSourceSystem, 0)
	if err != nil {
		if errors.Is(err, blocking.ErrAlreadyBlocked) {
			return true
		}
		e.logger.Error("escalation block failed", zap.String("ip", ban.IP), zap.Error(err))
		return false
	}
	return true
}

// scoreBan computes the escalation score in [0,100] with its contributing
// factor descriptions.
func scoreBan(ban models.PerimeterBan, priors int, geo models.GeoInfo, rep models.ReputationInfo, now time.Time) (int, []string) {
	score := 0
	var factors []string

	if priors >= repeatOffenderFloor {
		score += 30
		factors = append(factors, fmt.Sprintf("repeat offender: %d prior blocks", priors))
	} else if priors > 0 {
		score += 8 * priors
		factors = append(factors, fmt.Sprintf("%d prior blocks", priors))
	}

	switch {
	case ban.FailureCount >= 10:
		score += 15
		factors = append(factors, fmt.Sprintf("%d authentication failures", ban.FailureCount))
	case ban.FailureCount >= 5:
		score += 8
		factors = append(factors, fmt.Sprintf("%d authentication failures", ban.FailureCount))
	}

	switch {
	case rep.AbuseScore >= 80:
		score += 25
		factors = append(factors, fmt.Sprintf("reputation score %d", rep.AbuseScore))
	case rep.AbuseScore >= 50:
		score += 15
		factors = append(factors, fmt.Sprintf("reputation score %d", rep.AbuseScore))
	case rep.AbuseScore >= 25:
		score += 8
		factors = append(factors, fmt.Sprintf("reputation score %d", rep.AbuseScore))
	}

	if geo.IsTor || rep.IsTorExit {
		score += 20
		factors = append(factors, "tor exit node")
	}
	if geo.IsVPN || geo.IsProxy {
		score += 10
		factors = append(factors, "vpn or proxy source")
	}
	if geo.IsHighRisk {
		score += 10
		factors = append(factors, fmt.Sprintf("high-risk country %s", geo.CountryCode))
	}

	if rep.DetectionCount > 0 {
		points := 5 * rep.DetectionCount
		if points > 20 {
			points = 20
		}
		score += points
		factors = append(factors, fmt.Sprintf("%d blocklist detections", rep.DetectionCount))
	}

	hour := now.Hour()
	if hour >= nightStartHour || hour < nightEndHour {
		score += 5
		factors = append(factors, "night-time activity")
	}

	if score > 100 {
		score = 100
	}
	return score, factors
}

func banDuration(score int) int {
	switch {
	case score >= 60:
		return longBanSeconds
	case score >= 30:
		return mediumBanSeconds
	default:
		return shortBanSeconds
	}
}

func riskLevelFor(score int) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskCritical
	case score >= 60:
		return models.RiskHigh
	case score >= 40:
		return models.RiskMedium
	case score >= 20:
		return models.RiskLow
	default:
		return models.RiskMinimal
	}
}
