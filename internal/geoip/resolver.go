package geoip

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"sshwatch/internal/config"
	"sshwatch/internal/models"
	redisrepo "sshwatch/internal/repository/redis"
)

// Resolver answers location and network-type questions about an IP from
// the local MaxMind databases. Lookups are cached in Redis; a failed
// lookup degrades to an unresolved record instead of failing the caller.
type Resolver struct {
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
	cache      *redisrepo.GeoCache
	highRisk   map[string]struct{}
	logger     *zap.Logger
}

// Keywords matched against the ASN organization name to flag hosting
// and anonymizing infrastructure. Matching is substring, case folded.
var (
	datacenterOrgs = []string{
		"amazon", "google", "microsoft", "digitalocean", "hetzner",
		"ovh", "linode", "vultr", "alibaba", "oracle", "contabo",
		"hosting", "datacenter", "data center", "cloud",
	}
	vpnOrgs = []string{
		"vpn", "nordvpn", "expressvpn", "mullvad", "proton",
		"private internet access", "surfshark",
	}
	proxyOrgs = []string{
		"proxy", "anonymizer",
	}
	torOrgs = []string{
		"tor exit", "tor-exit", "torservers", "tor relay",
	}
)

// Unavailable stands in for the resolver when no city database could be
// opened. Every lookup returns an unresolved record.
type Unavailable struct{}

func (Unavailable) Resolve(_ context.Context, ip string) models.GeoInfo {
	return models.GeoInfo{IP: ip}
}

// NewResolver opens both mmdb readers. The city database is required,
// the ASN database is optional and only disables network-type flags.
func NewResolver(cfg config.GeoIPConfig, cache *redisrepo.GeoCache, highRiskCountries []string, logger *zap.Logger) (*Resolver, error) {
	cityReader, err := geoip2.Open(cfg.CityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}

	asnReader, err := geoip2.Open(cfg.ASNDBPath)
	if err != nil {
		logger.Warn("ASN database unavailable, network-type flags disabled",
			zap.String("path", cfg.ASNDBPath), zap.Error(err))
		asnReader = nil
	}

	highRisk := make(map[string]struct{}, len(highRiskCountries))
	for _, cc := range highRiskCountries {
		highRisk[strings.ToUpper(cc)] = struct{}{}
	}

	return &Resolver{
		cityReader: cityReader,
		asnReader:  asnReader,
		cache:      cache,
		highRisk:   highRisk,
		logger:     logger,
	}, nil
}

// Resolve returns the geographic enrichment for an IP. Cache first, then
// the local databases. Never returns an error to the caller; lookup
// failures produce an unresolved record so evaluation can proceed.
func (r *Resolver) Resolve(ctx context.Context, ipText string) models.GeoInfo {
	if cached, err := r.cache.Get(ctx, ipText); err == nil && cached != nil {
		return *cached
	}

	info := r.lookup(ipText)
	if info.Resolved {
		if err := r.cache.Set(ctx, &info); err != nil {
			r.logger.Warn("geo cache write failed", zap.String("ip", ipText), zap.Error(err))
		}
	}
	return info
}

func (r *Resolver) lookup(ipText string) models.GeoInfo {
	info := models.GeoInfo{IP: ipText}

	ip := net.ParseIP(ipText)
	if ip == nil {
		return info
	}

	city, err := r.cityReader.City(ip)
	if err != nil {
		r.logger.Warn("city lookup failed", zap.String("ip", ipText), zap.Error(err))
		return info
	}

	info.CountryCode = city.Country.IsoCode
	info.CountryName = city.Country.Names["en"]
	info.City = city.City.Names["en"]
	info.Latitude = city.Location.Latitude
	info.Longitude = city.Location.Longitude
	info.Resolved = true

	if _, ok := r.highRisk[strings.ToUpper(info.CountryCode)]; ok {
		info.IsHighRisk = true
	}

	if r.asnReader != nil {
		asn, err := r.asnReader.ASN(ip)
		if err == nil {
			info.ASN = uint(asn.AutonomousSystemNumber)
			info.ISP = asn.AutonomousSystemOrganization
			r.classifyOrg(&info)
		}
	}
	return info
}

func (r *Resolver) classifyOrg(info *models.GeoInfo) {
	org := strings.ToLower(info.ISP)
	if org == "" {
		return
	}
	if containsAny(org, torOrgs) {
		info.IsTor = true
	}
	if containsAny(org, vpnOrgs) {
		info.IsVPN = true
	}
	if containsAny(org, proxyOrgs) {
		info.IsProxy = true
	}
	if containsAny(org, datacenterOrgs) {
		info.IsDatacenter = true
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Close releases both database readers.
func (r *Resolver) Close() {
	if r.cityReader != nil {
		r.cityReader.Close()
	}
	if r.asnReader != nil {
		r.asnReader.Close()
	}
}
