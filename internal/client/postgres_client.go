package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sshwatch/internal/config"
	"sshwatch/internal/util"
)

// PostgresClient wraps the pgx pool. It is the single shared relational
// store: events, profiles, trust records, rules, blocks and the audit trail
// all live here.
type PostgresClient struct {
	Pool   *pgxpool.Pool
	config *config.PostgresConfig
}

// NewPostgresClient opens and verifies the connection pool.
func NewPostgresClient(cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	pgConfig := cfg.Postgres

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres config: %w", err)
	}

	poolConfig.MaxConns = pgConfig.MaxConns
	poolConfig.MinConns = pgConfig.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	util.Info("Postgres client initialized",
		zap.String("host", pgConfig.Host),
		zap.String("database", pgConfig.Database),
		zap.Int("max_conns", int(pgConfig.MaxConns)))

	return &PostgresClient{
		Pool:   pool,
		config: &pgConfig,
	}, nil
}

// ExecTx runs fn inside a transaction, rolling back on error. The named
// return lets the deferred rollback surface its own failure.
func (p *PostgresClient) ExecTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	var tx pgx.Tx
	tx, err = p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				err = fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// HealthCheck verifies Postgres connectivity.
func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	if err := p.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (p *PostgresClient) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		util.Info("Postgres client closed")
	}
}
