package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
	"sshwatch/internal/util"
)

// BlockRepository owns block rows and their audit trail. The partial unique
// index on (ip) WHERE is_active turns CreateBlockIfAbsent into an atomic
// check-and-insert: under concurrent submissions only one row wins.
type BlockRepository interface {
	CreateBlockIfAbsent(ctx context.Context, block *models.BlockRecord) (created bool, err error)
	GetActiveBlock(ctx context.Context, ip string) (*models.BlockRecord, error)
	Deactivate(ctx context.Context, ip string) (*models.BlockRecord, error)
	DeactivateExpired(ctx context.Context) (int, error)
	ListActive(ctx context.Context, limit int) ([]models.BlockRecord, error)
	CountPriorBlocks(ctx context.Context, ip string) (int, error)
	InsertAction(ctx context.Context, action *models.BlockingAction) error
}

type blockRepository struct {
	db     *client.PostgresClient
	logger *zap.Logger
}

// NewBlockRepository creates the Postgres-backed block repository.
func NewBlockRepository(db *client.PostgresClient, logger *zap.Logger) BlockRepository {
	return &blockRepository{db: db, logger: logger}
}

const blockColumns = `
	block_id, ip, agent, reason, block_source, rule_id, is_active,
	blocked_at, unblock_at, auto_unblock, unblocked_at
`

// CreateBlockIfAbsent inserts a new active block unless one already exists
// for the IP. ON CONFLICT DO NOTHING against the partial unique index makes
// the operation idempotent without a read-then-write window.
func (r *blockRepository) CreateBlockIfAbsent(ctx context.Context, block *models.BlockRecord) (bool, error) {
	query := `
		INSERT INTO blocks (` + blockColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, NULL)
		ON CONFLICT (ip) WHERE is_active DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		block.BlockID, block.IP, block.Agent, block.Reason, block.BlockSource,
		block.RuleID, block.BlockedAt, block.UnblockAt, block.AutoUnblock,
	)
	if err != nil {
		return false, fmt.Errorf("insert block: %w", err)
	}

	created := tag.RowsAffected() == 1
	if !created {
		r.logger.Debug("active block already exists", util.String("ip", block.IP))
	}
	return created, nil
}

func (r *blockRepository) GetActiveBlock(ctx context.Context, ip string) (*models.BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE ip = $1 AND is_active`

	var b models.BlockRecord
	err := r.db.Pool.QueryRow(ctx, query, ip).Scan(
		&b.BlockID, &b.IP, &b.Agent, &b.Reason, &b.BlockSource, &b.RuleID,
		&b.IsActive, &b.BlockedAt, &b.UnblockAt, &b.AutoUnblock, &b.UnblockedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active block: %w", err)
	}
	return &b, nil
}

// Deactivate flips the active block for the IP and returns it. ErrNotFound
// means there was nothing to unblock.
func (r *blockRepository) Deactivate(ctx context.Context, ip string) (*models.BlockRecord, error) {
	query := `
		UPDATE blocks SET is_active = FALSE, unblocked_at = now()
		WHERE ip = $1 AND is_active
		RETURNING ` + blockColumns

	var b models.BlockRecord
	err := r.db.Pool.QueryRow(ctx, query, ip).Scan(
		&b.BlockID, &b.IP, &b.Agent, &b.Reason, &b.BlockSource, &b.RuleID,
		&b.IsActive, &b.BlockedAt, &b.UnblockAt, &b.AutoUnblock, &b.UnblockedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deactivate block: %w", err)
	}
	return &b, nil
}

// DeactivateExpired sweeps past-due auto-unblock rows. It only transitions
// active to inactive, so it is safe to run concurrently with block creation
// and with itself.
func (r *blockRepository) DeactivateExpired(ctx context.Context) (int, error) {
	query := `
		UPDATE blocks SET is_active = FALSE, unblocked_at = now()
		WHERE is_active AND auto_unblock AND unblock_at IS NOT NULL AND unblock_at <= now()
	`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired blocks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *blockRepository) ListActive(ctx context.Context, limit int) ([]models.BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks
		WHERE is_active ORDER BY blocked_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list active blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.BlockRecord
	for rows.Next() {
		var b models.BlockRecord
		if err := rows.Scan(
			&b.BlockID, &b.IP, &b.Agent, &b.Reason, &b.BlockSource, &b.RuleID,
			&b.IsActive, &b.BlockedAt, &b.UnblockAt, &b.AutoUnblock, &b.UnblockedAt,
		); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// CountPriorBlocks counts historical block rows for the repeat-offender
// signal in ban escalation.
func (r *blockRepository) CountPriorBlocks(ctx context.Context, ip string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM blocks WHERE ip = $1`, ip).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count prior blocks: %w", err)
	}
	return count, nil
}

func (r *blockRepository) InsertAction(ctx context.Context, action *models.BlockingAction) error {
	query := `
		INSERT INTO blocking_actions (
			action_id, ip, action_type, action_source, reason, username,
			rule_id, block_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		action.ActionID, action.IP, action.ActionType, action.ActionSource,
		action.Reason, action.Username, action.RuleID, action.BlockID,
		action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert blocking action: %w", err)
	}
	return nil
}
