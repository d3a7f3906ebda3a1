package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/models"
)

// newIntegrationDB connects to the database named by TEST_POSTGRES_URL and
// applies the reference schema. Without the variable the test is skipped,
// so the store-enforced invariants are only exercised against a real
// Postgres.
func newIntegrationDB(t *testing.T) *client.PostgresClient {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("schema.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return &client.PostgresClient{Pool: pool}
}

func TestUpsertAutoNeverDowngradesManualTrust(t *testing.T) {
	db := newIntegrationDB(t)
	repo := NewTrustRepository(db, zap.NewNop())
	ctx := context.Background()

	subject := "198.51.100." + uuid.NewString()[:8]
	now := time.Now().UTC()

	require.NoError(t, repo.UpsertManual(ctx, &models.TrustRecord{
		Subject:    subject,
		Kind:       models.SubjectIP,
		TrustScore: 100,
		Reason:     "operator allowlist",
		FirstSeen:  now,
		LastSeen:   now,
	}))

	// The learner writes a lower score with auto trust revoked; the
	// manual row must come back untouched.
	require.NoError(t, repo.UpsertAuto(ctx, &models.TrustRecord{
		Subject:       subject,
		Kind:          models.SubjectIP,
		TrustScore:    5,
		IsAutoTrusted: false,
		Reason:        "learner sweep",
		FirstSeen:     now,
		LastSeen:      now.Add(time.Hour),
	}))

	record, err := repo.GetBySubject(ctx, subject)
	require.NoError(t, err)
	assert.True(t, record.IsManuallyTrusted)
	assert.True(t, record.Trusted())
	assert.Equal(t, 100, record.TrustScore)
	assert.Equal(t, "operator allowlist", record.Reason)
}

func TestUpsertAutoUpdatesUnmanagedRows(t *testing.T) {
	db := newIntegrationDB(t)
	repo := NewTrustRepository(db, zap.NewNop())
	ctx := context.Background()

	subject := "198.51.100." + uuid.NewString()[:8]
	now := time.Now().UTC()

	require.NoError(t, repo.UpsertAuto(ctx, &models.TrustRecord{
		Subject: subject, Kind: models.SubjectIP, TrustScore: 10,
		FirstSeen: now, LastSeen: now,
	}))
	require.NoError(t, repo.UpsertAuto(ctx, &models.TrustRecord{
		Subject: subject, Kind: models.SubjectIP, TrustScore: 80,
		IsAutoTrusted: true, FirstSeen: now, LastSeen: now,
	}))

	record, err := repo.GetBySubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, 80, record.TrustScore)
	assert.True(t, record.IsAutoTrusted)
	assert.False(t, record.IsManuallyTrusted)
}

func TestCreateBlockIfAbsentOneActivePerIP(t *testing.T) {
	db := newIntegrationDB(t)
	repo := NewBlockRepository(db, zap.NewNop())
	ctx := context.Background()

	ip := "203.0.113." + uuid.NewString()[:8]

	first := &models.BlockRecord{
		BlockID:     uuid.New(),
		IP:          ip,
		Agent:       "bastion-1",
		Reason:      "brute force",
		BlockSource: models.BlockSourceRule,
		BlockedAt:   time.Now().UTC(),
		AutoUnblock: true,
	}
	created, err := repo.CreateBlockIfAbsent(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	// A concurrent writer loses against the partial unique index.
	second := &models.BlockRecord{
		BlockID:     uuid.New(),
		IP:          ip,
		Reason:      "reputation",
		BlockSource: models.BlockSourceManual,
		BlockedAt:   time.Now().UTC(),
	}
	created, err = repo.CreateBlockIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	active, err := repo.GetActiveBlock(ctx, ip)
	require.NoError(t, err)
	assert.Equal(t, first.BlockID, active.BlockID)
	assert.Equal(t, "bastion-1", active.Agent)

	// Lifting the block frees the slot for a new one.
	_, err = repo.Deactivate(ctx, ip)
	require.NoError(t, err)

	created, err = repo.CreateBlockIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.True(t, created)
}
