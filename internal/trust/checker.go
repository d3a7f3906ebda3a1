package trust

import (
	"context"
	"errors"
	"fmt"

	"sshwatch/internal/models"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/util"
)

// Checker answers the trust-gate question for a single address.
type Checker struct {
	trust postgres.TrustRepository
}

func NewChecker(trust postgres.TrustRepository) *Checker {
	return &Checker{trust: trust}
}

// IsTrusted checks the exact address first, then its containing /24.
// A positive result bypasses behavioral scoring for the event.
func (c *Checker) IsTrusted(ctx context.Context, ip string) (bool, error) {
	record, err := c.lookup(ctx, ip)
	if err != nil {
		return false, err
	}
	if record != nil && record.Trusted() {
		return true, nil
	}

	cidr, err := util.NetworkOf(ip)
	if err != nil {
		return false, nil
	}
	record, err = c.lookup(ctx, cidr)
	if err != nil {
		return false, err
	}
	return record != nil && record.Trusted(), nil
}

func (c *Checker) lookup(ctx context.Context, subject string) (*models.TrustRecord, error) {
	record, err := c.trust.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("trust lookup %s: %w", subject, err)
	}
	return record, nil
}
