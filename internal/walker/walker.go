// Package walker runs the periodic price random walk.
package walker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"cryptobot/internal/events"
	"cryptobot/internal/market"

	"github.com/google/uuid"
)

var ErrTickInProgress = errors.New("tick already in progress")

type Publisher interface {
	PublishTick(ctx context.Context, ev events.TickEvent) error
}

type Observer interface {
	ObserveTick(changes []market.PriceChange, took time.Duration, err error)
}

type Options struct {
	Publisher Publisher
	Observer  Observer
	Rand      *mathrand.Rand
	Now       func() time.Time
}

type Walker struct {
	store  market.TickStore
	every  time.Duration
	log    *slog.Logger
	pub    Publisher
	obs    Observer
	now    func() time.Time
	randMu sync.Mutex
	rand   *mathrand.Rand

	ready     chan struct{}
	readyOnce sync.Once
	ticking   atomic.Bool
}

func New(store market.TickStore, every time.Duration, logger *slog.Logger, opts Options) (*Walker, error) {
	if every <= 0 {
		return nil, fmt.Errorf("tick interval must be > 0, got %s", every)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Walker{
		store: store,
		every: every,
		log:   logger,
		pub:   opts.Publisher,
		obs:   opts.Observer,
		now:   opts.Now,
		rand:  opts.Rand,
		ready: make(chan struct{}),
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	if w.rand == nil {
		w.rand = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	return w, nil
}

// Ready opens the start gate. Calling it more than once is harmless.
func (w *Walker) Ready() {
	w.readyOnce.Do(func() { close(w.ready) })
}

// Run waits for Ready, then ticks every interval until ctx is done. Ticks run one at a
// time on this goroutine; intervals missed by a slow tick are dropped.
func (w *Walker) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ready:
	}

	// Fire mid-interval so scheduling jitter does not push two ticks into one interval.
	phase := time.NewTimer(midInterval(time.Now(), w.every))
	select {
	case <-ctx.Done():
		phase.Stop()
		return ctx.Err()
	case <-phase.C:
	}
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	w.log.Info("price walker started", "tick_every", w.every.String())
	for {
		select {
		case <-ctx.Done():
			w.log.Info("price walker shutdown")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.scheduledTick(ctx); err != nil {
				if ctx.Err() != nil {
					w.log.Info("tick abandoned on shutdown", "err", err)
					continue
				}
				w.log.Error("market tick failed", "err", err)
				continue
			}
		}
	}
}

func midInterval(now time.Time, every time.Duration) time.Duration {
	wait := every/2 - now.Sub(now.Truncate(every))
	if wait < 0 {
		wait += every
	}
	return wait
}

// scheduledTick ticks unless another walker sharing the store already ticked the
// current interval.
func (w *Walker) scheduledTick(ctx context.Context) ([]market.PriceChange, error) {
	claimer, ok := w.store.(market.IntervalClaimer)
	if !ok {
		return w.Tick(ctx)
	}
	slot := w.now().Truncate(w.every)
	claimed, err := claimer.ClaimInterval(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("claim tick interval: %w", err)
	}
	if !claimed {
		w.log.Debug("tick interval already taken", "slot", slot)
		return nil, nil
	}
	return w.Tick(ctx)
}

// Tick applies one tick to every asset.
func (w *Walker) Tick(ctx context.Context) ([]market.PriceChange, error) {
	if !w.ticking.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer w.ticking.Store(false)

	tickID := uuid.New()
	at := w.now()
	start := time.Now()
	changes, err := w.runTick(ctx, tickID, at)
	if w.obs != nil {
		w.obs.ObserveTick(changes, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("tick %s: %w", tickID, err)
	}
	w.log.Info("market tick complete", "tick_id", tickID.String(), "assets", len(changes))

	if w.pub != nil {
		ev := events.TickEvent{TickID: tickID, At: at, Changes: changes}
		if err := w.pub.PublishTick(ctx, ev); err != nil {
			w.log.Warn("tick publish failed", "tick_id", tickID.String(), "err", err)
		}
	}
	return changes, nil
}

func (w *Walker) runTick(ctx context.Context, tickID uuid.UUID, at time.Time) (changes []market.PriceChange, err error) {
	defer func() {
		if r := recover(); r != nil {
			changes, err = nil, fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return w.store.RunTick(ctx, tickID, at, w.delta)
}

// delta draws a uniform integer in [-volatility, +volatility].
func (w *Walker) delta(a market.Asset) int64 {
	if a.Volatility <= 0 {
		return 0
	}
	v := uint64(a.Volatility)
	span := 2*v + 1

	w.randMu.Lock()
	defer w.randMu.Unlock()
	var draw uint64
	if span <= math.MaxInt64 {
		draw = uint64(w.rand.Int63n(int64(span)))
	} else {
		// span is at least 2^63, so each attempt succeeds with probability >= 1/2.
		for draw = w.rand.Uint64(); draw >= span; draw = w.rand.Uint64() {
		}
	}
	return int64(draw - v)
}
