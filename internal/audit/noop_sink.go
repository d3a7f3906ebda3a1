package audit

import (
	"context"

	"sshwatch/internal/models"
)

// NoopSink discards audit records. Used when ClickHouse is unavailable
// so the decision pipeline keeps running without an archive.
type NoopSink struct{}

func (NoopSink) RecordAssessment(_ context.Context, _ *models.ThreatAssessment) {}

func (NoopSink) RecordEscalation(_ context.Context, _ models.PerimeterBan, _ *models.BanEscalationRecord) {
}
