package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sshwatch/internal/behavior"
	"sshwatch/internal/blocking"
	"sshwatch/internal/escalation"
	"sshwatch/internal/models"
	"sshwatch/internal/parser"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/threat"
	"sshwatch/internal/util"
)

// AssessmentArchive receives completed assessments, best effort.
type AssessmentArchive interface {
	RecordAssessment(ctx context.Context, assessment *models.ThreatAssessment)
}

// SubmitRequest is one authentication event as submitted by an agent.
type SubmitRequest struct {
	IP            string               `json:"source_ip"`
	Username      string               `json:"username"`
	EventType     models.EventType     `json:"status"`
	AuthMethod    models.AuthMethod    `json:"auth_method,omitempty"`
	FailureReason models.FailureReason `json:"failure_reason,omitempty"`
	Port          int                  `json:"port,omitempty"`
	Protocol      string               `json:"protocol,omitempty"`
	Hostname      string               `json:"hostname,omitempty"`
	Timestamp     time.Time            `json:"timestamp,omitempty"`
	RawLog        string               `json:"raw_log,omitempty"`
	Source        models.EventSource   `json:"source,omitempty"`
}

// SubmitResult carries the synchronous decision for one event.
type SubmitResult struct {
	EventID    uuid.UUID               `json:"event_id"`
	Assessment models.ThreatAssessment `json:"assessment"`
	Decision   *models.BlockDecision   `json:"decision"`
}

// EventService orchestrates the ingestion pipeline: persist, enrich,
// evaluate, enforce, learn.
type EventService struct {
	events     postgres.EventRepository
	evaluator  *threat.Evaluator
	engine     *blocking.Engine
	learner    *behavior.Learner
	escalation *escalation.Evaluator
	archive    AssessmentArchive
	logger     *zap.Logger
}

func NewEventService(events postgres.EventRepository, evaluator *threat.Evaluator, engine *blocking.Engine, learner *behavior.Learner, escalationEval *escalation.Evaluator, archive AssessmentArchive, logger *zap.Logger) *EventService {
	return &EventService{
		events:     events,
		evaluator:  evaluator,
		engine:     engine,
		learner:    learner,
		escalation: escalationEval,
		archive:    archive,
		logger:     logger,
	}
}

// Submit runs the full pipeline for one event and returns the decision.
func (s *EventService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	event, err := s.buildEvent(req)
	if err != nil {
		return nil, err
	}

	if err := s.events.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}

	assessment := s.evaluator.Evaluate(ctx, event)
	if assessment.Geo.Resolved {
		s.advance(ctx, event, models.StatusGeoIPComplete)
	}
	if assessment.Reputation.Resolved {
		s.advance(ctx, event, models.StatusIntelComplete)
	}
	s.advance(ctx, event, models.StatusEvaluated)

	decision, err := s.engine.EvaluateRules(ctx, event.SourceIP, event.Hostname, &assessment)
	if err != nil {
		s.logger.Error("rule evaluation failed",
			zap.String("ip", event.SourceIP), zap.Error(err))
		decision = &models.BlockDecision{Reason: "rule evaluation unavailable"}
	}

	if err := s.learner.Observe(ctx, event, assessment.Geo); err != nil {
		s.logger.Warn("profile update failed",
			zap.String("username", event.Username), zap.Error(err))
	}

	if s.archive != nil {
		s.archive.RecordAssessment(ctx, &assessment)
	}
	s.advance(ctx, event, models.StatusCompleted)

	return &SubmitResult{
		EventID:    event.EventID,
		Assessment: assessment,
		Decision:   decision,
	}, nil
}

// SubmitBatch runs the pipeline for up to MaxBatchSize events. A single
// bad event fails only its own slot.
func (s *EventService) SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]*SubmitResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d events, maximum %d", ErrBatchTooLarge, len(reqs), MaxBatchSize)
	}

	results := make([]*SubmitResult, 0, len(reqs))
	for i, req := range reqs {
		result, err := s.Submit(ctx, req)
		if err != nil {
			s.logger.Warn("batch event rejected", zap.Int("index", i), zap.Error(err))
			results = append(results, nil)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// SubmitRawLine parses one raw sshd log line and submits the event.
// Unmatched lines are dropped with ErrUnparsedLine.
func (s *EventService) SubmitRawLine(ctx context.Context, line, hostname string, source models.EventSource) (*SubmitResult, error) {
	parsed, ok := parser.Parse(line, source, time.Now().UTC())
	if !ok {
		s.logger.Debug("unparsed log line dropped", zap.String("hostname", hostname))
		return nil, ErrUnparsedLine
	}

	return s.Submit(ctx, SubmitRequest{
		IP:            parsed.SourceIP,
		Username:      parsed.Username,
		EventType:     parsed.EventType,
		AuthMethod:    parsed.AuthMethod,
		FailureReason: parsed.FailureReason,
		Port:          parsed.Port,
		Hostname:      hostname,
		Timestamp:     parsed.Timestamp,
		RawLog:        parsed.RawLog,
		Source:        parsed.Source,
	})
}

// SubmitPerimeterBan runs the escalation evaluator for an external
// perimeter-ban signal.
func (s *EventService) SubmitPerimeterBan(ctx context.Context, ban models.PerimeterBan) (*models.BanEscalationRecord, error) {
	if _, _, err := util.NormalizeIP(ban.IP); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if ban.BannedAt.IsZero() {
		ban.BannedAt = time.Now().UTC()
	}
	return s.escalation.Evaluate(ctx, ban)
}

func (s *EventService) buildEvent(req SubmitRequest) (*models.AuthEvent, error) {
	ipText, ipBytes, err := util.NormalizeIP(req.IP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	switch req.EventType {
	case models.EventSuccess, models.EventFailed:
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, req.EventType)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	source := req.Source
	if source == "" {
		source = models.SourceAgent
	}
	method := req.AuthMethod
	if method == "" {
		method = models.MethodOther
	}
	protocol := req.Protocol
	if protocol == "" {
		protocol = "ssh2"
	}

	return &models.AuthEvent{
		EventID:          uuid.New(),
		Timestamp:        ts,
		SourceIP:         ipText,
		SourceIPBytes:    ipBytes,
		Username:         req.Username,
		EventType:        req.EventType,
		AuthMethod:       method,
		FailureReason:    req.FailureReason,
		Port:             req.Port,
		Protocol:         protocol,
		Hostname:         req.Hostname,
		RawLog:           req.RawLog,
		Source:           source,
		ProcessingStatus: models.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// advance moves the event's processing status forward; regressions are
// rejected here and in SQL so a late writer cannot roll the pipeline
// back.
func (s *EventService) advance(ctx context.Context, event *models.AuthEvent, next models.ProcessingStatus) {
	if !event.ProcessingStatus.Advances(next) {
		return
	}
	if err := s.events.AdvanceStatus(ctx, event.EventID.String(), next); err != nil {
		s.logger.Warn("status advance failed",
			zap.String("event_id", event.EventID.String()),
			zap.String("status", string(next)),
			zap.Error(err))
	}
	event.ProcessingStatus = next
}
