package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the service reads from the environment at
// startup. Runtime tunables (rules, score bands, anomaly weights) live in
// Postgres and are reloaded on an interval by the service layer.
type Config struct {
	Environment string

	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	GeoIP      GeoIPConfig
	Reputation ReputationConfig
	Engine     EngineConfig
	Bucketing  BucketingConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers           []string
	FirewallTopic     string
	NotificationTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type GeoIPConfig struct {
	CityDBPath string
	ASNDBPath  string
	CacheTTL   time.Duration
}

type ReputationConfig struct {
	BaseURL              string
	APIKey               string
	Timeout              time.Duration
	CacheTTL             time.Duration
	MaxAgeDays           int
	SecondaryFeedEnabled bool
}

// EngineConfig carries the heuristic constants of the scoring models. The
// breakpoints mirror the operational values the models were tuned with;
// they are deliberately configuration, not code.
type EngineConfig struct {
	ReloadInterval       time.Duration
	TrustBatchInterval   time.Duration
	CleanupInterval      time.Duration
	MinProfileLogins     int
	AnomalyThreshold     int
	TimeWeight           float64
	LocationWeight       float64
	IPWeight             float64
	DayWeight            float64
	SessionGapWeight     float64
	AutoTrustScore       int
	AutoTrustMinLogins   int
	AutoTrustMinDays     int
	HighRiskCountries    []string
}

type BucketingConfig struct {
	CacheShards int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads .env (when present) and materializes the typed config.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  GetEnv("SERVER_AUTOCERT_DIR", "/var/lib/sshwatch/certs"),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     GetEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     GetEnv("POSTGRES_USER", "sshwatch"),
			Password: GetEnv("POSTGRES_PASSWORD", ""),
			Database: GetEnv("POSTGRES_DB", "sshwatch"),
			SSLMode:  GetEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("POSTGRES_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("POSTGRES_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(GetEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			FirewallTopic:     GetEnv("KAFKA_FIREWALL_TOPIC", "firewall-commands"),
			NotificationTopic: GetEnv("KAFKA_NOTIFICATION_TOPIC", "notification-triggers"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USER", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DB", "sshwatch"),
		},
		GeoIP: GeoIPConfig{
			CityDBPath: GetEnv("GEOIP_CITY_DB", "/var/lib/geoip/GeoLite2-City.mmdb"),
			ASNDBPath:  GetEnv("GEOIP_ASN_DB", "/var/lib/geoip/GeoLite2-ASN.mmdb"),
			CacheTTL:   getEnvDuration("GEOIP_CACHE_TTL", 30*24*time.Hour),
		},
		Reputation: ReputationConfig{
			BaseURL:              GetEnv("REPUTATION_BASE_URL", "https://api.abuseipdb.com/api/v2"),
			APIKey:               GetEnv("REPUTATION_API_KEY", ""),
			Timeout:              getEnvDuration("REPUTATION_TIMEOUT", 3*time.Second),
			CacheTTL:             getEnvDuration("REPUTATION_CACHE_TTL", 6*time.Hour),
			MaxAgeDays:           getEnvInt("REPUTATION_MAX_AGE_DAYS", 90),
			SecondaryFeedEnabled: getEnvBool("REPUTATION_SECONDARY_FEED", true),
		},
		Engine: EngineConfig{
			ReloadInterval:     getEnvDuration("ENGINE_RELOAD_INTERVAL", 5*time.Minute),
			TrustBatchInterval: getEnvDuration("TRUST_BATCH_INTERVAL", time.Hour),
			CleanupInterval:    getEnvDuration("BLOCK_CLEANUP_INTERVAL", time.Minute),
			MinProfileLogins:   getEnvInt("MIN_PROFILE_LOGINS", 10),
			AnomalyThreshold:   getEnvInt("ANOMALY_THRESHOLD", 30),
			TimeWeight:         getEnvFloat("ANOMALY_TIME_WEIGHT", 35),
			LocationWeight:     getEnvFloat("ANOMALY_LOCATION_WEIGHT", 40),
			IPWeight:           getEnvFloat("ANOMALY_IP_WEIGHT", 25),
			DayWeight:          getEnvFloat("ANOMALY_DAY_WEIGHT", 20),
			SessionGapWeight:   getEnvFloat("ANOMALY_SESSION_GAP_WEIGHT", 10),
			AutoTrustScore:     getEnvInt("AUTO_TRUST_SCORE", 50),
			AutoTrustMinLogins: getEnvInt("AUTO_TRUST_MIN_LOGINS", 3),
			AutoTrustMinDays:   getEnvInt("AUTO_TRUST_MIN_DAYS", 1),
			HighRiskCountries:  strings.Split(GetEnv("HIGH_RISK_COUNTRIES", "CN,RU,KP,IR,VN,IN,BR"), ","),
		},
		Bucketing: BucketingConfig{
			CacheShards: getEnvInt("CACHE_SHARDS", 16),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// PostgresDSN renders the keyword/value DSN consumed by pgxpool.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User,
		c.Postgres.Password, c.Postgres.Database, c.Postgres.SSLMode,
	)
}

// GetEnv returns the environment value or the fallback when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
