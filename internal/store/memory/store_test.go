package memory

import (
	"context"
	"testing"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, tag string, price int64) market.Asset {
	t.Helper()
	a, err := s.CreateAsset(context.Background(), market.Asset{Tag: tag, Name: tag, Price: decimal.NewFromInt(price), Volatility: 10})
	require.NoError(t, err)
	return a
}

func TestRunTickRecordsOldPriceAndUpdates(t *testing.T) {
	ctx := context.Background()
	s := New(1000)
	a := seed(t, s, "ABC", 100)
	at := time.Now().UTC()

	changes, err := s.RunTick(ctx, uuid.New(), at, func(market.Asset) int64 { return 7 })
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Old.Equal(decimal.NewFromInt(100)))
	assert.True(t, changes[0].New.Equal(decimal.NewFromInt(107)))

	got, ok, err := s.GetAsset(ctx, "ABC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(107)))

	samples, err := s.QuerySamples(ctx, a.ID, at.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestRunTickSameTickIDRecordsOnce(t *testing.T) {
	ctx := context.Background()
	s := New(1000)
	a := seed(t, s, "ABC", 100)
	tickID := uuid.New()
	at := time.Now().UTC()

	require.NoError(t, s.RecordSample(ctx, market.PriceSample{AssetID: a.ID, TickID: tickID, Price: a.Price, RecordedAt: at}))
	require.NoError(t, s.RecordSample(ctx, market.PriceSample{AssetID: a.ID, TickID: tickID, Price: a.Price, RecordedAt: at}))

	samples, err := s.QuerySamples(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestRunTickCancelledLeavesNoTrace(t *testing.T) {
	s := New(1000)
	a := seed(t, s, "ABC", 100)
	seed(t, s, "XYZ", 50)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := s.RunTick(ctx, uuid.New(), time.Now(), func(market.Asset) int64 {
		calls++
		if calls == 2 {
			cancel()
		}
		return 5
	})
	require.ErrorIs(t, err, context.Canceled)

	got, _, _ := s.GetAsset(context.Background(), "ABC")
	assert.True(t, got.Price.Equal(decimal.NewFromInt(100)))
	samples, _ := s.QuerySamples(context.Background(), a.ID, time.Time{})
	assert.Empty(t, samples)
}

func TestQuerySamplesNewestFirstAndSince(t *testing.T) {
	ctx := context.Background()
	s := New(1000)
	a := seed(t, s, "ABC", 100)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordSample(ctx, market.PriceSample{
			AssetID:    a.ID,
			TickID:     uuid.New(),
			Price:      decimal.NewFromInt(int64(100 + i)),
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	samples, err := s.QuerySamples(ctx, a.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.True(t, samples[0].Price.Equal(decimal.NewFromInt(104)))
	assert.True(t, samples[2].Price.Equal(decimal.NewFromInt(102)))
}

func TestRemoveKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := New(1000)
	a := seed(t, s, "ABC", 100)
	_, err := s.RunTick(ctx, uuid.New(), time.Now(), func(market.Asset) int64 { return 0 })
	require.NoError(t, err)

	require.NoError(t, s.RemoveAsset(ctx, "ABC"))
	b := seed(t, s, "ABC", 10)
	assert.NotEqual(t, a.ID, b.ID)

	old, err := s.QuerySamples(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, old, 1)
	fresh, err := s.QuerySamples(ctx, b.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestCommitVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New(500)

	acct, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Balance)

	stale := acct.Clone()
	acct.Balance = 200
	acct.Holdings["ABC"] = 3
	require.NoError(t, s.Commit(ctx, acct))

	stale.Balance = 0
	assert.ErrorIs(t, s.Commit(ctx, stale), market.ErrConflict)

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), got.Balance)
	assert.Equal(t, int64(3), got.Holdings["ABC"])
	assert.Equal(t, int64(1), got.Version)
}

func TestCommitDropsZeroHoldings(t *testing.T) {
	ctx := context.Background()
	s := New(500)
	acct, err := s.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	acct.Holdings["ABC"] = 0
	require.NoError(t, s.Commit(ctx, acct))

	got, _, _ := s.Get(ctx, "u1")
	assert.NotContains(t, got.Holdings, "ABC")
}

func TestGetMissingAccount(t *testing.T) {
	_, ok, err := New(500).Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
