package trade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"cryptobot/internal/market"
	"cryptobot/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	registry *market.Registry
	engine   *Engine
}

func newFixture(t *testing.T, balance int64, locks Locker) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(balance)
	reg := market.NewRegistry(st, st, logger)
	return fixture{store: st, registry: reg, engine: NewEngine(reg, st, locks, logger, nil)}
}

func (f fixture) asset(t *testing.T, tag string, price int64) market.Asset {
	t.Helper()
	a, err := f.registry.Create(context.Background(), tag, tag, decimal.NewFromInt(price), 10)
	require.NoError(t, err)
	return a
}

func TestBuyDebitsBalanceAndCreditsHoldings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, nil)
	f.asset(t, "ABC", 100)

	res, err := f.engine.Buy(ctx, "u1", "abc", 3)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, int64(300), res.Amount)
	assert.Equal(t, int64(200), res.Balance)

	acct, ok, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), acct.Balance)
	assert.Equal(t, int64(3), acct.Holdings["ABC"])
}

func TestBuyInsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, nil)
	f.asset(t, "ABC", 100)

	res, err := f.engine.Buy(ctx, "u1", "ABC", 6)
	require.ErrorIs(t, err, market.ErrInsufficientFunds)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, "insufficient_funds", res.Reason)

	acct, _, _ := f.store.Get(ctx, "u1")
	assert.Equal(t, int64(500), acct.Balance)
	assert.Empty(t, acct.Holdings)
}

func TestSellMoreThanHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, nil)
	f.asset(t, "ABC", 100)
	_, err := f.engine.Buy(ctx, "u1", "ABC", 3)
	require.NoError(t, err)

	_, err = f.engine.Sell(ctx, "u1", "ABC", 5)
	require.ErrorIs(t, err, market.ErrInsufficientHoldings)

	acct, _, _ := f.store.Get(ctx, "u1")
	assert.Equal(t, int64(200), acct.Balance)
	assert.Equal(t, int64(3), acct.Holdings["ABC"])
}

func TestSellWithoutHoldings(t *testing.T) {
	f := newFixture(t, 500, nil)
	f.asset(t, "ABC", 100)

	_, err := f.engine.Sell(context.Background(), "fresh", "ABC", 1)
	assert.ErrorIs(t, err, market.ErrInsufficientHoldings)
}

func TestRoundTripAtSamePriceIsExact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000, nil)
	f.asset(t, "ABC", 37)

	_, err := f.engine.Buy(ctx, "u1", "ABC", 7)
	require.NoError(t, err)
	res, err := f.engine.Sell(ctx, "u1", "ABC", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Balance)

	acct, _, _ := f.store.Get(ctx, "u1")
	assert.Equal(t, int64(1000), acct.Balance)
	assert.NotContains(t, acct.Holdings, "ABC")
}

func TestSellPastBalanceLimitRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, math.MaxInt64-5, nil)
	a := f.asset(t, "ABC", 5)
	_, err := f.engine.Buy(ctx, "u1", "ABC", 1)
	require.NoError(t, err)
	_, err = f.store.ApplyDelta(ctx, a.ID, 100)
	require.NoError(t, err)

	res, err := f.engine.Sell(ctx, "u1", "ABC", 1)
	require.ErrorIs(t, err, market.ErrBalanceLimit)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, "balance_limit", res.Reason)
	assert.False(t, Retryable(err))

	acct, _, _ := f.store.Get(ctx, "u1")
	assert.Equal(t, int64(math.MaxInt64-10), acct.Balance)
	assert.Equal(t, int64(1), acct.Holdings["ABC"])
}

func TestRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, nil)
	f.asset(t, "ABC", 100)

	tests := []struct {
		name   string
		tag    string
		qty    int64
		want   error
		reason string
	}{
		{name: "zero quantity", tag: "ABC", qty: 0, want: market.ErrInvalidQuantity, reason: "invalid_quantity"},
		{name: "negative quantity", tag: "ABC", qty: -2, want: market.ErrInvalidQuantity, reason: "invalid_quantity"},
		{name: "unknown tag", tag: "NOP", qty: 1, want: market.ErrUnknownAsset, reason: "unknown_asset"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.engine.Buy(ctx, "u1", tc.tag, tc.qty)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.reason, res.Reason)
			assert.False(t, Retryable(err))
		})
	}

	_, ok, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "rejected requests do not open an account")
}

func TestConcurrentBuysSameUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, nil)
	f.asset(t, "ABC", 100)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Buy(ctx, "u1", "ABC", 1)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, market.ErrUserBusy), errors.Is(err, market.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)

	acct, _, _ := f.store.Get(ctx, "u1")
	assert.Equal(t, int64(0), acct.Balance)
	assert.Equal(t, int64(1), acct.Holdings["ABC"])
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string) (func(), error) {
	return nil, market.ErrUserBusy
}

func TestBusyUserIsRetryable(t *testing.T) {
	f := newFixture(t, 500, heldLocker{})
	f.asset(t, "ABC", 100)

	res, err := f.engine.Buy(context.Background(), "u1", "ABC", 1)
	require.ErrorIs(t, err, market.ErrUserBusy)
	assert.Equal(t, "user_busy", res.Reason)
	assert.True(t, Retryable(err))
}

type conflictLedger struct {
	*memory.Store
}

func (conflictLedger) Commit(context.Context, market.Account) error {
	return market.ErrConflict
}

func TestCommitConflictRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(500)
	reg := market.NewRegistry(st, st, logger)
	_, err := reg.Create(context.Background(), "ABC", "Alpha", decimal.NewFromInt(100), 1)
	require.NoError(t, err)
	engine := NewEngine(reg, conflictLedger{st}, nil, logger, nil)

	res, err := engine.Buy(context.Background(), "u1", "ABC", 1)
	require.ErrorIs(t, err, market.ErrConflict)
	assert.Equal(t, StateRejected, res.State)
	assert.True(t, Retryable(err))
}

type observer struct {
	mu   sync.Mutex
	seen []string
}

func (o *observer) ObserveTrade(side, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, side+":"+result)
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(100)
	reg := market.NewRegistry(st, st, logger)
	_, err := reg.Create(context.Background(), "ABC", "Alpha", decimal.NewFromInt(60), 1)
	require.NoError(t, err)
	obs := &observer{}
	engine := NewEngine(reg, st, nil, logger, obs)

	_, _ = engine.Buy(context.Background(), "u1", "ABC", 1)
	_, _ = engine.Buy(context.Background(), "u1", "ABC", 1)
	assert.Equal(t, []string{"buy:completed", "buy:rejected"}, obs.seen)
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" BUY ")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)

	_, err = ParseSide("short")
	assert.Error(t, err)
}
