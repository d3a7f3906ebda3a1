package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sshwatch/internal/audit"
	"sshwatch/internal/behavior"
	"sshwatch/internal/blocking"
	"sshwatch/internal/bucketing"
	"sshwatch/internal/client"
	"sshwatch/internal/config"
	"sshwatch/internal/dispatch"
	"sshwatch/internal/escalation"
	"sshwatch/internal/geoip"
	"sshwatch/internal/reputation"
	"sshwatch/internal/repository/postgres"
	redisrepo "sshwatch/internal/repository/redis"
	"sshwatch/internal/scheduler"
	"sshwatch/internal/service"
	"sshwatch/internal/threat"
	"sshwatch/internal/tls"
	"sshwatch/internal/trust"
	"sshwatch/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	postgresClient   *client.PostgresClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Managers and enrichment providers
	bucketingManager   *bucketing.Manager
	geoCache           *redisrepo.GeoCache
	reputationCache    *redisrepo.ReputationCache
	geoResolver        threat.GeoResolver
	geoCloser          *geoip.Resolver
	reputationProvider *reputation.Provider

	// Repositories
	eventRepository   postgres.EventRepository
	profileRepository postgres.ProfileRepository
	ruleRepository    postgres.RuleRepository
	blockRepository   postgres.BlockRepository
	trustRepository   postgres.TrustRepository

	// Decision engines
	dispatcher          *dispatch.KafkaDispatcher
	trustChecker        *trust.Checker
	trustLearner        *trust.Learner
	behaviorLearner     *behavior.Learner
	threatEvaluator     *threat.Evaluator
	blockingEngine      *blocking.Engine
	escalationEvaluator *escalation.Evaluator
	auditSink           service.AssessmentArchive
	escalationSink      escalation.AuditSink

	runtimeConfig  *service.RuntimeConfig
	serviceFactory *service.ServiceFactory
	scheduler      *scheduler.Scheduler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeEnrichment(); err != nil {
		return nil, fmt.Errorf("failed to initialize enrichment: %w", err)
	}

	factory.initializeRepositories()
	factory.initializeEngines()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Postgres
	if pg, err := client.NewPostgresClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
	} else {
		f.postgresClient = pg
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("postgres health check: %w", err))
		} else {
			util.Info("Postgres client initialized and healthy")
		}
	}

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// ClickHouse
	if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without audit archive", util.ErrorField(err))
	} else {
		f.clickhouseClient = ch
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed - proceeding without audit archive", util.ErrorField(err))
			_ = f.clickhouseClient.Close()
			f.clickhouseClient = nil
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeEnrichment wires the caches and the geo and reputation
// lookups. A missing city database is fatal in production only.
func (f *Factory) initializeEnrichment() error {
	f.bucketingManager = bucketing.NewManager(f.config)
	f.geoCache = redisrepo.NewGeoCache(f.redisClient, f.bucketingManager, f.config.GeoIP.CacheTTL, util.Get())
	f.reputationCache = redisrepo.NewReputationCache(f.redisClient, f.bucketingManager, f.config.Reputation.CacheTTL, util.Get())

	resolver, err := geoip.NewResolver(f.config.GeoIP, f.geoCache, f.config.Engine.HighRiskCountries, util.Get())
	if err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("geoip: %w", err)
		}
		util.Warn("GeoIP initialization failed - proceeding without geo enrichment", util.ErrorField(err))
		f.geoResolver = geoip.Unavailable{}
	} else {
		f.geoCloser = resolver
		f.geoResolver = resolver
		util.Info("GeoIP resolver initialized", util.String("city_db", f.config.GeoIP.CityDBPath))
	}

	f.reputationProvider = reputation.NewProvider(f.config.Reputation, f.reputationCache, util.Get())
	return nil
}

func (f *Factory) initializeRepositories() {
	f.eventRepository = postgres.NewEventRepository(f.postgresClient, util.Get())
	f.profileRepository = postgres.NewProfileRepository(f.postgresClient, util.Get())
	f.ruleRepository = postgres.NewRuleRepository(f.postgresClient, util.Get())
	f.blockRepository = postgres.NewBlockRepository(f.postgresClient, util.Get())
	f.trustRepository = postgres.NewTrustRepository(f.postgresClient, util.Get())
}

// initializeEngines assembles the decision pipeline. The runtime config
// is built first so the threat evaluator can read score bands from it.
func (f *Factory) initializeEngines() {
	f.runtimeConfig = service.NewRuntimeConfig(f.ruleRepository, util.Get())

	if f.clickhouseClient != nil {
		sink, err := audit.NewClickHouseSink(f.clickhouseClient, util.Get())
		if err != nil {
			util.Warn("Audit schema setup failed - proceeding without audit archive", util.ErrorField(err))
			f.auditSink = audit.NoopSink{}
			f.escalationSink = audit.NoopSink{}
		} else {
			f.auditSink = sink
			f.escalationSink = sink
		}
	} else {
		f.auditSink = audit.NoopSink{}
		f.escalationSink = audit.NoopSink{}
	}

	f.dispatcher = dispatch.NewKafkaDispatcher(f.kafkaProducer, f.config.Kafka, util.Get())

	f.trustChecker = trust.NewChecker(f.trustRepository)
	f.trustLearner = trust.NewLearner(f.eventRepository, f.trustRepository, f.config.Engine, util.Get())
	f.behaviorLearner = behavior.NewLearner(f.profileRepository, util.Get())

	scorer := behavior.NewScorer(f.config.Engine)
	f.threatEvaluator = threat.NewEvaluator(
		f.geoResolver,
		f.reputationProvider,
		f.trustChecker,
		f.profileRepository,
		scorer,
		f.runtimeConfig.Bands,
		util.Get(),
	)

	f.blockingEngine = blocking.NewEngine(f.runtimeConfig.Rules, f.blockRepository, f.eventRepository, f.dispatcher, util.Get())
	f.escalationEvaluator = escalation.NewEvaluator(
		f.blockRepository,
		f.geoResolver,
		f.reputationProvider,
		f.blockingEngine,
		f.escalationSink,
		f.dispatcher,
		util.Get(),
	)

	util.Info("Decision engines initialized",
		util.Bool("audit_archive", f.clickhouseClient != nil),
		util.Int("cache_shards", f.bucketingManager.Shards()),
	)
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.eventRepository,
			f.threatEvaluator,
			f.blockingEngine,
			f.behaviorLearner,
			f.escalationEvaluator,
			f.auditSink,
			f.runtimeConfig,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// Scheduler returns the background job runner for trust batches, block
// cleanup, and config reload.
func (f *Factory) Scheduler() *scheduler.Scheduler {
	if f.scheduler == nil {
		f.scheduler = scheduler.NewScheduler(
			f.trustLearner,
			f.blockingEngine,
			f.runtimeConfig,
			f.config.Engine,
			util.Get(),
		)
	}
	return f.scheduler
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.postgresClient != nil {
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			healthErrors["postgres"] = err
		}
	} else {
		healthErrors["postgres"] = fmt.Errorf("postgres client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if _, degraded := f.geoResolver.(geoip.Unavailable); degraded {
		healthErrors["geoip"] = fmt.Errorf("geoip databases not loaded")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	delete(healthErrors, "geoip")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.scheduler != nil {
			f.scheduler.Stop()
			util.Info("Scheduler stopped")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.geoCloser != nil {
			f.geoCloser.Close()
			util.Info("GeoIP databases closed")
		}

		if f.postgresClient != nil {
			f.postgresClient.Close()
			util.Info("Postgres pool closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) RuleRepository() postgres.RuleRepository {
	return f.ruleRepository
}

func (f *Factory) BlockRepository() postgres.BlockRepository {
	return f.blockRepository
}

func (f *Factory) TrustRepository() postgres.TrustRepository {
	return f.trustRepository
}

func (f *Factory) TrustChecker() *trust.Checker {
	return f.trustChecker
}

func (f *Factory) BlockingEngine() *blocking.Engine {
	return f.blockingEngine
}

func (f *Factory) RuntimeConfig() *service.RuntimeConfig {
	return f.runtimeConfig
}
