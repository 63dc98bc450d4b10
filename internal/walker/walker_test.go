package walker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	mathrand "math/rand"
	"sync/atomic"
	"testing"
	"time"

	"cryptobot/internal/events"
	"cryptobot/internal/market"
	"cryptobot/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWalker(t *testing.T, st market.TickStore, every time.Duration, opts Options) *Walker {
	t.Helper()
	if opts.Rand == nil {
		opts.Rand = mathrand.New(mathrand.NewSource(1))
	}
	w, err := New(st, every, quietLogger(), opts)
	require.NoError(t, err)
	return w
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(memory.New(0), 0, nil, Options{})
	assert.Error(t, err)
}

func TestTickMovesPriceWithinVolatility(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	a, err := st.CreateAsset(ctx, market.Asset{Tag: "ABC", Name: "Alpha", Price: decimal.NewFromInt(100), Volatility: 10})
	require.NoError(t, err)
	w := newWalker(t, st, time.Minute, Options{})

	changes, err := w.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	got, _, _ := st.GetAsset(ctx, "ABC")
	assert.True(t, got.Price.GreaterThanOrEqual(decimal.NewFromInt(90)), "price=%s", got.Price)
	assert.True(t, got.Price.LessThanOrEqual(decimal.NewFromInt(110)), "price=%s", got.Price)

	samples, err := st.QuerySamples(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestTickNeverDropsBelowOne(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	_, err := st.CreateAsset(ctx, market.Asset{Tag: "LOW", Name: "Low", Price: decimal.NewFromInt(3), Volatility: 50})
	require.NoError(t, err)
	w := newWalker(t, st, time.Minute, Options{})

	for i := 0; i < 500; i++ {
		_, err := w.Tick(ctx)
		require.NoError(t, err)
		a, _, _ := st.GetAsset(ctx, "LOW")
		require.True(t, a.Price.GreaterThanOrEqual(market.MinPrice), "tick %d price=%s", i, a.Price)
	}
}

func TestZeroVolatilityIsFlat(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	_, err := st.CreateAsset(ctx, market.Asset{Tag: "FLT", Name: "Flat", Price: decimal.NewFromInt(42)})
	require.NoError(t, err)
	w := newWalker(t, st, time.Minute, Options{})

	for i := 0; i < 10; i++ {
		_, err := w.Tick(ctx)
		require.NoError(t, err)
	}
	a, _, _ := st.GetAsset(ctx, "FLT")
	assert.True(t, a.Price.Equal(decimal.NewFromInt(42)))
}

func TestDeltaCoversFullRange(t *testing.T) {
	w := newWalker(t, memory.New(0), time.Minute, Options{})
	seen := map[int64]bool{}
	for i := 0; i < 2000; i++ {
		d := w.delta(market.Asset{Volatility: 2})
		require.GreaterOrEqual(t, d, int64(-2))
		require.LessOrEqual(t, d, int64(2))
		seen[d] = true
	}
	assert.Len(t, seen, 5)
}

func TestTickHandlesLargestVolatility(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	reg := market.NewRegistry(st, st, quietLogger())
	_, err := reg.Create(ctx, "BIG", "Big", decimal.NewFromInt(100), market.MaxVolatility)
	require.NoError(t, err)
	w := newWalker(t, st, time.Minute, Options{})

	changes, err := w.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].New.GreaterThanOrEqual(market.MinPrice))

	bound := decimal.NewFromInt(100 + market.MaxVolatility)
	assert.True(t, changes[0].New.LessThanOrEqual(bound), "price=%s", changes[0].New)
}

func TestDeltaStaysInRangeForAnyVolatility(t *testing.T) {
	w := newWalker(t, memory.New(0), time.Minute, Options{})
	for _, v := range []int64{1, market.MaxVolatility, market.MaxVolatility + 1, math.MaxInt64} {
		for i := 0; i < 200; i++ {
			d := w.delta(market.Asset{Volatility: v})
			require.GreaterOrEqual(t, d, -v, "volatility=%d", v)
			require.LessOrEqual(t, d, v, "volatility=%d", v)
		}
	}
}

type panickingStore struct{}

func (panickingStore) RunTick(context.Context, uuid.UUID, time.Time, market.StepFunc) ([]market.PriceChange, error) {
	panic("boom")
}

func TestTickRecoversFromStorePanic(t *testing.T) {
	w := newWalker(t, panickingStore{}, time.Minute, Options{})
	_, err := w.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = w.Tick(context.Background())
	assert.NotErrorIs(t, err, ErrTickInProgress)
}

func TestWalkersSharingStoreTickOncePerInterval(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	a, err := st.CreateAsset(ctx, market.Asset{Tag: "ABC", Name: "Alpha", Price: decimal.NewFromInt(100), Volatility: 10})
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 30, 0, time.UTC)
	clock := func() time.Time { return now }
	first := newWalker(t, st, time.Minute, Options{Now: clock})
	second := newWalker(t, st, time.Minute, Options{Now: clock})

	_, err = first.scheduledTick(ctx)
	require.NoError(t, err)
	changes, err := second.scheduledTick(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	samples, err := st.QuerySamples(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	now = now.Add(time.Minute)
	_, err = second.scheduledTick(ctx)
	require.NoError(t, err)
	_, err = first.scheduledTick(ctx)
	require.NoError(t, err)

	samples, err = st.QuerySamples(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestMidInterval(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, midInterval(base, time.Minute))
	assert.Equal(t, 10*time.Second, midInterval(base.Add(20*time.Second), time.Minute))
	assert.Equal(t, 50*time.Second, midInterval(base.Add(40*time.Second), time.Minute))
}

type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) RunTick(ctx context.Context, _ uuid.UUID, _ time.Time, _ market.StepFunc) ([]market.PriceChange, error) {
	s.entered <- struct{}{}
	<-s.release
	return nil, nil
}

func TestOverlappingTickRejected(t *testing.T) {
	st := &blockingStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	w := newWalker(t, st, time.Minute, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := w.Tick(context.Background())
		done <- err
	}()
	<-st.entered

	_, err := w.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(st.release)
	require.NoError(t, <-done)
}

type countingStore struct {
	calls atomic.Int32
	fail  bool
}

func (s *countingStore) RunTick(context.Context, uuid.UUID, time.Time, market.StepFunc) ([]market.PriceChange, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, errors.New("storage down")
	}
	return nil, nil
}

func TestRunWaitsForReady(t *testing.T) {
	st := &countingStore{}
	w := newWalker(t, st, 5*time.Millisecond, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, st.calls.Load())
}

func TestRunSurvivesFailingTicks(t *testing.T) {
	st := &countingStore{fail: true}
	w := newWalker(t, st, 5*time.Millisecond, Options{})
	w.Ready()
	w.Ready()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return st.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type recordingPublisher struct {
	events []events.TickEvent
	err    error
}

func (p *recordingPublisher) PublishTick(_ context.Context, ev events.TickEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

type recordingObserver struct {
	ticks int
	errs  int
}

func (o *recordingObserver) ObserveTick(_ []market.PriceChange, _ time.Duration, err error) {
	o.ticks++
	if err != nil {
		o.errs++
	}
}

func TestTickPublishesAndObserves(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	_, err := st.CreateAsset(ctx, market.Asset{Tag: "ABC", Name: "Alpha", Price: decimal.NewFromInt(100), Volatility: 10})
	require.NoError(t, err)
	pub := &recordingPublisher{err: errors.New("nats down")}
	obs := &recordingObserver{}
	w := newWalker(t, st, time.Minute, Options{Publisher: pub, Observer: obs})

	changes, err := w.Tick(ctx)
	require.NoError(t, err, "publish failures do not fail the tick")
	require.Len(t, pub.events, 1)
	assert.Equal(t, changes, pub.events[0].Changes)
	assert.NotEqual(t, uuid.Nil, pub.events[0].TickID)
	assert.Equal(t, 1, obs.ticks)
	assert.Zero(t, obs.errs)
}
