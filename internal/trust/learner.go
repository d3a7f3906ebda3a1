package trust

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/config"
	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/util"
)

// activityWindow is the trailing slice of history the learner scores.
const activityWindow = 30 * 24 * time.Hour

// Learner periodically promotes addresses with long clean histories into
// the trusted set. It only writes auto-trust records; operator records
// are protected at the repository layer.
type Learner struct {
	events postgres.EventRepository
	trust  postgres.TrustRepository
	cfg    config.EngineConfig
	logger *zap.Logger
}

func NewLearner(events postgres.EventRepository, trust postgres.TrustRepository, cfg config.EngineConfig, logger *zap.Logger) *Learner {
	return &Learner{events: events, trust: trust, cfg: cfg, logger: logger}
}

// Run scores every IP with at least one successful login in the trailing
// window, then re-derives /24 network trust from the member IPs.
func (l *Learner) Run(ctx context.Context) error {
	since := time.Now().UTC().Add(-activityWindow)

	activities, err := l.events.ListActivitySince(ctx, since)
	if err != nil {
		return fmt.Errorf("list ip activity: %w", err)
	}

	scored, promoted := 0, 0
	for _, activity := range activities {
		record := ScoreActivity(activity, l.cfg)
		if err := l.trust.UpsertAuto(ctx, record); err != nil {
			l.logger.Warn("trust upsert failed", zap.String("ip", activity.IP), zap.Error(err))
			continue
		}
		scored++
		if record.IsAutoTrusted {
			promoted++
		}
	}

	if err := l.promoteNetworks(ctx); err != nil {
		return err
	}

	l.logger.Info("trust batch complete",
		zap.Int("scored", scored),
		zap.Int("auto_trusted", promoted))
	return nil
}

// ScoreActivity computes the trust record for one IP's aggregate. The
// score is the sum of four independently capped components.
func ScoreActivity(activity models.IPActivity, cfg config.EngineConfig) *models.TrustRecord {
	score := volumePoints(activity.SuccessfulLogins) +
		daysActivePoints(activity.DaysActive) +
		failureRatePoints(activity.SuccessfulLogins, activity.FailedLogins) +
		userConsistencyPoints(activity.UniqueUsers)

	autoTrusted := score >= cfg.AutoTrustScore &&
		activity.SuccessfulLogins >= cfg.AutoTrustMinLogins &&
		activity.DaysActive >= cfg.AutoTrustMinDays

	reason := "below auto-trust threshold"
	if autoTrusted {
		reason = fmt.Sprintf("%d clean logins over %d days", activity.SuccessfulLogins, activity.DaysActive)
	}

	return &models.TrustRecord{
		Subject:          activity.IP,
		Kind:             models.SubjectIP,
		TrustScore:       score,
		SuccessfulLogins: activity.SuccessfulLogins,
		FailedLogins:     activity.FailedLogins,
		UniqueUsers:      activity.UniqueUsers,
		DaysActive:       activity.DaysActive,
		IsAutoTrusted:    autoTrusted,
		Reason:           reason,
		FirstSeen:        activity.FirstSeen,
		LastSeen:         activity.LastSeen,
		UpdatedAt:        time.Now().UTC(),
	}
}

// promoteNetworks marks any /24 holding two or more auto-trusted members
// as trusted with the mean member score.
func (l *Learner) promoteNetworks(ctx context.Context) error {
	trusted, err := l.trust.ListAutoTrustedIPs(ctx)
	if err != nil {
		return fmt.Errorf("list trusted ips: %w", err)
	}

	type group struct {
		members  int
		scoreSum int
		first    time.Time
		last     time.Time
	}
	networks := make(map[string]*group)

	for _, record := range trusted {
		cidr, err := util.NetworkOf(record.Subject)
		if err != nil {
			continue
		}
		g, ok := networks[cidr]
		if !ok {
			g = &group{first: record.FirstSeen, last: record.LastSeen}
			networks[cidr] = g
		}
		g.members++
		g.scoreSum += record.TrustScore
		if record.FirstSeen.Before(g.first) {
			g.first = record.FirstSeen
		}
		if record.LastSeen.After(g.last) {
			g.last = record.LastSeen
		}
	}

	for cidr, g := range networks {
		if g.members < 2 {
			continue
		}
		record := &models.TrustRecord{
			Subject:       cidr,
			Kind:          models.SubjectNetwork,
			TrustScore:    g.scoreSum / g.members,
			IsAutoTrusted: true,
			Reason:        fmt.Sprintf("%d trusted members", g.members),
			FirstSeen:     g.first,
			LastSeen:      g.last,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := l.trust.UpsertAuto(ctx, record); err != nil {
			l.logger.Warn("network trust upsert failed", zap.String("network", cidr), zap.Error(err))
		}
	}
	return nil
}

// Successful-login volume, capped at 30 points.
func volumePoints(successes int) int {
	switch {
	case successes >= 20:
		return 30
	case successes >= 10:
		return 20
	case successes >= 5:
		return 12
	case successes >= 3:
		return 6
	default:
		return 0
	}
}

// Distinct active days, capped at 25 points.
func daysActivePoints(days int) int {
	switch {
	case days >= 14:
		return 25
	case days >= 7:
		return 18
	case days >= 3:
		return 10
	case days >= 1:
		return 5
	default:
		return 0
	}
}

// Failure rate, capped at 25 points, inverse: a clean history earns the
// full component.
func failureRatePoints(successes, failures int) int {
	total := successes + failures
	if total == 0 {
		return 0
	}
	rate := float64(failures) / float64(total)
	switch {
	case rate == 0:
		return 25
	case rate <= 0.05:
		return 18
	case rate <= 0.10:
		return 10
	case rate <= 0.20:
		return 5
	default:
		return 0
	}
}

// Username consistency, capped at 20 points. Several users behind one
// address can be a shared host, so the component degrades instead of
// zeroing out.
func userConsistencyPoints(uniqueUsers int) int {
	switch {
	case uniqueUsers == 1:
		return 20
	case uniqueUsers == 2:
		return 14
	case uniqueUsers == 3:
		return 10
	case uniqueUsers <= 5:
		return 6
	case uniqueUsers > 5:
		return 2
	default:
		return 0
	}
}
