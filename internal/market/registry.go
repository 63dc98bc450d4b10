package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxSearchResults = 25

// Registry is the catalog of tradable assets and the entry point for price history.
type Registry struct {
	assets  AssetStore
	history HistoryStore
	log     *slog.Logger
}

func NewRegistry(assets AssetStore, history HistoryStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{assets: assets, history: history, log: logger}
}

func (r *Registry) Create(ctx context.Context, tag, name string, startPrice decimal.Decimal, volatility int64) (Asset, error) {
	tag = NormalizeTag(tag)
	name = strings.TrimSpace(name)
	if err := ValidateTag(tag); err != nil {
		return Asset{}, err
	}
	if err := validateName(name); err != nil {
		return Asset{}, err
	}
	if startPrice.LessThan(MinPrice) {
		return Asset{}, fmt.Errorf("%w: start price must be at least %s", ErrInvalidAsset, MinPrice)
	}
	if volatility < 0 {
		return Asset{}, fmt.Errorf("%w: volatility must be >= 0", ErrInvalidAsset)
	}
	if volatility > MaxVolatility {
		return Asset{}, fmt.Errorf("%w: volatility must be <= %d", ErrInvalidAsset, int64(MaxVolatility))
	}
	a, err := r.assets.CreateAsset(ctx, Asset{
		Tag:        tag,
		Name:       name,
		Price:      startPrice,
		Volatility: volatility,
	})
	if err != nil {
		return Asset{}, err
	}
	r.log.Info("asset created", "tag", a.Tag, "price", a.Price.String(), "volatility", a.Volatility)
	return a, nil
}

func (r *Registry) Remove(ctx context.Context, tag string) error {
	tag = NormalizeTag(tag)
	if err := r.assets.RemoveAsset(ctx, tag); err != nil {
		return err
	}
	r.log.Info("asset removed", "tag", tag)
	return nil
}

func (r *Registry) Get(ctx context.Context, tag string) (Asset, bool, error) {
	return r.assets.GetAsset(ctx, NormalizeTag(tag))
}

func (r *Registry) List(ctx context.Context) ([]Asset, error) {
	out, err := r.assets.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// Search returns the tags containing fragment, for autocompletion.
func (r *Registry) Search(ctx context.Context, fragment string) ([]string, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	fragment = NormalizeTag(fragment)
	out := make([]string, 0, len(all))
	for _, a := range all {
		if strings.Contains(a.Tag, fragment) {
			out = append(out, a.Tag)
		}
		if len(out) == maxSearchResults {
			break
		}
	}
	return out, nil
}

func (r *Registry) ApplyDelta(ctx context.Context, assetID, delta int64) (decimal.Decimal, error) {
	return r.assets.ApplyDelta(ctx, assetID, delta)
}

// History resolves tag and returns its samples since the given time, newest first.
func (r *Registry) History(ctx context.Context, tag string, since time.Time) (Asset, []PriceSample, error) {
	a, ok, err := r.Get(ctx, tag)
	if err != nil {
		return Asset{}, nil, err
	}
	if !ok {
		return Asset{}, nil, ErrUnknownAsset
	}
	samples, err := r.history.QuerySamples(ctx, a.ID, since)
	if err != nil {
		return Asset{}, nil, err
	}
	return a, samples, nil
}
