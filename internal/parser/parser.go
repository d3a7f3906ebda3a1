package parser

import (
	"regexp"
	"strconv"
	"time"

	"sshwatch/internal/models"
)

// pattern pairs an sshd message shape with its classification. Patterns are
// tried in order; the first match wins.
type pattern struct {
	re            *regexp.Regexp
	eventType     models.EventType
	authMethod    models.AuthMethod
	failureReason models.FailureReason
}

var patterns = []pattern{
	{
		re:            regexp.MustCompile(`Failed password for invalid user (\S+) from (\S+) port (\d+)`),
		eventType:     models.EventFailed,
		authMethod:    models.MethodPassword,
		failureReason: models.FailureInvalidUser,
	},
	{
		re:            regexp.MustCompile(`Failed password for (\S+) from (\S+) port (\d+)`),
		eventType:     models.EventFailed,
		authMethod:    models.MethodPassword,
		failureReason: models.FailureInvalidPassword,
	},
	{
		re:            regexp.MustCompile(`Failed publickey for (\S+) from (\S+) port (\d+)`),
		eventType:     models.EventFailed,
		authMethod:    models.MethodPublicKey,
		failureReason: models.FailureNone,
	},
	{
		re:            regexp.MustCompile(`Accepted password for (\S+) from (\S+) port (\d+)`),
		eventType:     models.EventSuccess,
		authMethod:    models.MethodPassword,
		failureReason: models.FailureNone,
	},
	{
		re:            regexp.MustCompile(`Accepted publickey for (\S+) from (\S+) port (\d+)`),
		eventType:     models.EventSuccess,
		authMethod:    models.MethodPublicKey,
		failureReason: models.FailureNone,
	},
	{
		re:            regexp.MustCompile(`Invalid user (\S+) from (\S+)(?: port (\d+))?`),
		eventType:     models.EventFailed,
		authMethod:    models.MethodOther,
		failureReason: models.FailureInvalidUser,
	},
	{
		re:            regexp.MustCompile(`Connection closed by (?:authenticating|invalid) user (\S+) (\S+)(?: port (\d+))?`),
		eventType:     models.EventFailed,
		authMethod:    models.MethodOther,
		failureReason: models.FailureNone,
	},
}

// isoPrefix matches an ISO-8601 timestamp with offset at line start,
// e.g. "2025-12-05T10:00:01.123456+00:00".
var isoPrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))`)

// syslogPrefix matches the legacy "Mon DD HH:MM:SS" prefix, which carries no
// year.
var syslogPrefix = regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2}) (\d{2}:\d{2}:\d{2})`)

// Parse normalizes one raw sshd log line. It is a pure function: no side
// effects, no blocking, and its only failure mode is returning ok=false for
// lines that match no known pattern. The caller discards those.
func Parse(line string, source models.EventSource, receivedAt time.Time) (*models.ParsedLine, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		port := 0
		if len(m) > 3 && m[3] != "" {
			port, _ = strconv.Atoi(m[3])
		}

		return &models.ParsedLine{
			Timestamp:     extractTimestamp(line, receivedAt),
			SourceIP:      m[2],
			Username:      m[1],
			EventType:     p.eventType,
			AuthMethod:    p.authMethod,
			FailureReason: p.failureReason,
			Port:          port,
			RawLog:        line,
			Source:        source,
		}, true
	}

	return nil, false
}

// extractTimestamp tries the ISO prefix, then the syslog prefix with the
// current year, then falls back to the receipt time.
func extractTimestamp(line string, receivedAt time.Time) time.Time {
	if m := isoPrefix.FindStringSubmatch(line); m != nil {
		if ts, err := time.Parse(time.RFC3339Nano, m[1]); err == nil {
			return ts
		}
	}

	if m := syslogPrefix.FindStringSubmatch(line); m != nil {
		stamp := m[1] + " " + m[2] + " " + m[3] + " " + strconv.Itoa(receivedAt.Year())
		if ts, err := time.ParseInLocation("Jan 2 15:04:05 2006", stamp, receivedAt.Location()); err == nil {
			return ts
		}
	}

	return receivedAt
}
