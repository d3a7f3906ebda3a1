package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
)

// Table DDL, applied on startup. ClickHouse is the analytical archive;
// the relational store stays authoritative for enforcement state.
const (
	assessmentsDDL = `
		CREATE TABLE IF NOT EXISTS threat_assessments (
			assessment_id String,
			event_id String,
			ip String,
			reputation_score Int32,
			anomaly_score Int32,
			composite_score Int32,
			risk_level String,
			recommended_action String,
			trusted UInt8,
			country_code String,
			factors String,
			evaluated_at DateTime
		) ENGINE = MergeTree()
		ORDER BY (evaluated_at, ip)`

	escalationsDDL = `
		CREATE TABLE IF NOT EXISTS ban_escalations (
			ip String,
			jail String,
			failure_count Int32,
			threat_score Int32,
			risk_level String,
			recommended_action String,
			recommended_duration Int32,
			auto_escalated UInt8,
			factors String,
			evaluated_at DateTime
		) ENGINE = MergeTree()
		ORDER BY (evaluated_at, ip)`
)

// ClickHouseSink archives assessments and escalation evaluations. Every
// write is best effort: a sink failure is logged and swallowed so the
// decision path never stalls on the archive.
type ClickHouseSink struct {
	ch     *client.ClickHouseClient
	logger *zap.Logger
}

func NewClickHouseSink(ch *client.ClickHouseClient, logger *zap.Logger) (*ClickHouseSink, error) {
	sink := &ClickHouseSink{ch: ch, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ch.Exec(ctx, assessmentsDDL); err != nil {
		return nil, err
	}
	if err := ch.Exec(ctx, escalationsDDL); err != nil {
		return nil, err
	}
	return sink, nil
}

// RecordAssessment archives one threat assessment.
func (s *ClickHouseSink) RecordAssessment(ctx context.Context, assessment *models.ThreatAssessment) {
	factors, _ := json.Marshal(assessment.AnomalyFactors)

	err := s.ch.Exec(ctx, `
		INSERT INTO threat_assessments (
			assessment_id, event_id, ip, reputation_score, anomaly_score,
			composite_score, risk_level, recommended_action, trusted,
			country_code, factors, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assessment.AssessmentID.String(),
		assessment.EventID.String(),
		assessment.IP,
		int32(assessment.ReputationScore),
		int32(assessment.AnomalyScore),
		int32(assessment.CompositeScore),
		string(assessment.RiskLevel),
		string(assessment.RecommendedAction),
		boolToUInt8(assessment.Trusted),
		assessment.Geo.CountryCode,
		string(factors),
		assessment.EvaluatedAt,
	)
	if err != nil {
		s.logger.Warn("assessment archive failed",
			zap.String("ip", assessment.IP), zap.Error(err))
	}
}

// RecordEscalation archives one escalation evaluation.
func (s *ClickHouseSink) RecordEscalation(ctx context.Context, ban models.PerimeterBan, record *models.BanEscalationRecord) {
	factors, _ := json.Marshal(record.Factors)

	err := s.ch.Exec(ctx, `
		INSERT INTO ban_escalations (
			ip, jail, failure_count, threat_score, risk_level,
			recommended_action, recommended_duration, auto_escalated,
			factors, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ban.IP,
		ban.Jail,
		int32(ban.FailureCount),
		int32(record.ThreatScore),
		string(record.RiskLevel),
		record.RecommendedAction,
		int32(record.RecommendedDuration),
		boolToUInt8(record.AutoEscalated),
		string(factors),
		record.EvaluatedAt,
	)
	if err != nil {
		s.logger.Warn("escalation archive failed",
			zap.String("ip", ban.IP), zap.Error(err))
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
