package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/config"
	"sshwatch/internal/models"
	redisrepo "sshwatch/internal/repository/redis"
)

// Provider queries the external IP reputation API. Responses are cached
// for several hours; API failures and timeouts degrade to an unresolved
// record so the evaluation pipeline keeps moving.
type Provider struct {
	cfg        config.ReputationConfig
	httpClient *http.Client
	cache      *redisrepo.ReputationCache
	logger     *zap.Logger
}

type checkResponse struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		TotalReports         int    `json:"totalReports"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
		IsTor                bool   `json:"isTor"`
		LastReportedAt       string `json:"lastReportedAt"`
	} `json:"data"`
}

func NewProvider(cfg config.ReputationConfig, cache *redisrepo.ReputationCache, logger *zap.Logger) *Provider {
	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  cache,
		logger: logger,
	}
}

// Lookup returns the reputation record for an IP, cache first. A missing
// API key or an upstream failure yields Resolved=false and never an error.
func (p *Provider) Lookup(ctx context.Context, ip string) models.ReputationInfo {
	if cached, err := p.cache.Get(ctx, ip); err == nil && cached != nil {
		return *cached
	}

	info := models.ReputationInfo{IP: ip}
	if p.cfg.APIKey == "" {
		return info
	}

	resolved, err := p.query(ctx, ip)
	if err != nil {
		p.logger.Warn("reputation lookup failed", zap.String("ip", ip), zap.Error(err))
		return info
	}
	info = resolved

	if p.cfg.SecondaryFeedEnabled {
		info.DetectionCount = p.secondaryDetections(info)
	}

	if err := p.cache.Set(ctx, &info); err != nil {
		p.logger.Warn("reputation cache write failed", zap.String("ip", ip), zap.Error(err))
	}
	return info
}

func (p *Provider) query(ctx context.Context, ip string) (models.ReputationInfo, error) {
	info := models.ReputationInfo{IP: ip}

	endpoint := fmt.Sprintf("%s/check", p.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return info, fmt.Errorf("build request: %w", err)
	}

	q := url.Values{}
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", strconv.Itoa(p.cfg.MaxAgeDays))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Key", p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return info, fmt.Errorf("reputation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return info, fmt.Errorf("reputation status %d: %s", resp.StatusCode, string(body))
	}

	var parsed checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return info, fmt.Errorf("decode reputation response: %w", err)
	}

	info.AbuseScore = parsed.Data.AbuseConfidenceScore
	info.ReportCount = parsed.Data.TotalReports
	info.Confidence = parsed.Data.AbuseConfidenceScore
	info.IsTorExit = parsed.Data.IsTor
	info.Resolved = true
	if parsed.Data.LastReportedAt != "" {
		if ts, err := time.Parse(time.RFC3339, parsed.Data.LastReportedAt); err == nil {
			info.LastReportedAt = ts
		}
	}
	return info, nil
}

// secondaryDetections approximates a blocklist-feed detection count from
// the primary response. Distinct reporter volume is the closest signal
// available without a second upstream call.
func (p *Provider) secondaryDetections(info models.ReputationInfo) int {
	switch {
	case info.AbuseScore >= 90:
		return 4
	case info.AbuseScore >= 75:
		return 3
	case info.AbuseScore >= 50:
		return 2
	case info.AbuseScore >= 25:
		return 1
	default:
		return 0
	}
}
