package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AssetStore interface {
	// CreateAsset fails with ErrDuplicateAsset when the tag is taken.
	CreateAsset(ctx context.Context, a Asset) (Asset, error)
	// RemoveAsset fails with ErrNotFound when no asset has the tag.
	RemoveAsset(ctx context.Context, tag string) error
	GetAsset(ctx context.Context, tag string) (Asset, bool, error)
	ListAssets(ctx context.Context) ([]Asset, error)
	ApplyDelta(ctx context.Context, assetID int64, delta int64) (decimal.Decimal, error)
}

type HistoryStore interface {
	RecordSample(ctx context.Context, s PriceSample) error
	// QuerySamples returns samples at or after since, newest first.
	QuerySamples(ctx context.Context, assetID int64, since time.Time) ([]PriceSample, error)
}

// StepFunc returns the price delta to apply to a during a tick. It runs while the store
// holds its tick lock and must not call back into the store.
type StepFunc func(a Asset) int64

// TickStore applies one tick to every asset as a single batch: either every sample and
// every price update is committed, or none is.
type TickStore interface {
	RunTick(ctx context.Context, tickID uuid.UUID, at time.Time, step StepFunc) ([]PriceChange, error)
}

// IntervalClaimer lets walkers sharing one store agree on a single tick per interval.
// ClaimInterval reports true for exactly one caller per slot, and only when slot is
// later than every slot claimed before.
type IntervalClaimer interface {
	ClaimInterval(ctx context.Context, slot time.Time) (bool, error)
}

type LedgerStore interface {
	GetOrCreate(ctx context.Context, userID string) (Account, error)
	Get(ctx context.Context, userID string) (Account, bool, error)
	// Commit persists the full account. It fails with ErrConflict when the stored
	// version no longer matches acct.Version.
	Commit(ctx context.Context, acct Account) error
}
