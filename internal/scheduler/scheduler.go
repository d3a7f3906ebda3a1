package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sshwatch/internal/blocking"
	"sshwatch/internal/config"
	"sshwatch/internal/service"
	"sshwatch/internal/trust"
)

// Scheduler owns the periodic jobs: the trust-learning batch, the
// expired-block sweep, and the runtime-config reload.
type Scheduler struct {
	cron          *cron.Cron
	trustLearner  *trust.Learner
	engine        *blocking.Engine
	runtimeConfig *service.RuntimeConfig
	cfg           config.EngineConfig
	logger        *zap.Logger
}

func NewScheduler(trustLearner *trust.Learner, engine *blocking.Engine, runtimeConfig *service.RuntimeConfig, cfg config.EngineConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithLocation(time.UTC)),
		trustLearner:  trustLearner,
		engine:        engine,
		runtimeConfig: runtimeConfig,
		cfg:           cfg,
		logger:        logger,
	}
}

// Start registers and launches all jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(everySpec(s.cfg.TrustBatchInterval), s.runTrustBatch); err != nil {
		return fmt.Errorf("schedule trust batch: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.cfg.CleanupInterval), s.runBlockCleanup); err != nil {
		return fmt.Errorf("schedule block cleanup: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.cfg.ReloadInterval), s.runConfigReload); err != nil {
		return fmt.Errorf("schedule config reload: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("trust_batch", s.cfg.TrustBatchInterval),
		zap.Duration("block_cleanup", s.cfg.CleanupInterval),
		zap.Duration("config_reload", s.cfg.ReloadInterval))
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runTrustBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	if err := s.trustLearner.Run(ctx); err != nil {
		s.logger.Error("trust batch failed", zap.Error(err))
		return
	}
	s.logger.Debug("trust batch finished", zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) runBlockCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.engine.CleanupExpiredBlocks(ctx); err != nil {
		s.logger.Error("block cleanup failed", zap.Error(err))
	}
}

func (s *Scheduler) runConfigReload() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.runtimeConfig.Refresh(ctx); err != nil {
		s.logger.Warn("runtime config reload failed", zap.Error(err))
	}
}

// everySpec renders a duration as a cron @every spec.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
