package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url, PoolOptions{MaxConns: 4, LockTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool, 500)
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE price_history, assets, accounts, tick_clock RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return s
}

func TestAssetsAndTick(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.CreateAsset(ctx, market.Asset{Tag: "ABC", Name: "Alpha", Price: decimal.RequireFromString("100"), Volatility: 10})
	require.NoError(t, err)
	_, err = s.CreateAsset(ctx, market.Asset{Tag: "abc", Name: "Dup", Price: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, market.ErrDuplicateAsset)

	tickID := uuid.New()
	at := time.Now().UTC().Truncate(time.Microsecond)
	changes, err := s.RunTick(ctx, tickID, at, func(market.Asset) int64 { return -200 })
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].New.Equal(market.MinPrice))

	// replaying the same tick does not duplicate history
	require.NoError(t, s.RecordSample(ctx, market.PriceSample{AssetID: a.ID, TickID: tickID, Price: decimal.NewFromInt(100), RecordedAt: at}))

	samples, err := s.QuerySamples(ctx, a.ID, at.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Price.Equal(decimal.NewFromInt(100)))

	got, ok, err := s.GetAsset(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(1)))

	require.NoError(t, s.RemoveAsset(ctx, "ABC"))
	assert.ErrorIs(t, s.RemoveAsset(ctx, "ABC"), market.ErrNotFound)
	samples, err = s.QuerySamples(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, samples, 1, "history survives removal")
}

func TestClaimIntervalOncePerSlot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	slot := time.Now().UTC().Truncate(time.Minute)

	ok, err := s.ClaimInterval(ctx, slot)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimInterval(ctx, slot)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ClaimInterval(ctx, slot.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ClaimInterval(ctx, slot.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerCommit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	acct, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Balance)

	stale := acct.Clone()
	acct.Balance = 200
	acct.Holdings["ABC"] = 3
	require.NoError(t, s.Commit(ctx, acct))
	assert.ErrorIs(t, s.Commit(ctx, stale), market.ErrConflict)

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), got.Balance)
	assert.Equal(t, map[string]int64{"ABC": 3}, got.Holdings)
}

func TestUnavailableKeepsCancellation(t *testing.T) {
	assert.ErrorIs(t, unavailable(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, unavailable(context.Canceled), market.ErrStorageUnavailable)

	err := unavailable(errors.New("dial tcp: refused"))
	assert.ErrorIs(t, err, market.ErrStorageUnavailable)

	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(errors.New("other")))
}
