// Package trade settles buy and sell requests against the live asset price and the
// user ledger.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("side must be buy or sell")
	}
}

type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
)

type Result struct {
	ID       string          `json:"id"`
	State    State           `json:"state"`
	Side     Side            `json:"side"`
	UserID   string          `json:"user_id"`
	Tag      string          `json:"tag"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   int64           `json:"amount"`
	Balance  int64           `json:"balance"`
	Reason   string          `json:"reason,omitempty"`
}

type AssetReader interface {
	Get(ctx context.Context, tag string) (market.Asset, bool, error)
}

type Observer interface {
	ObserveTrade(side, result string)
}

type Engine struct {
	assets AssetReader
	ledger market.LedgerStore
	locks  Locker
	log    *slog.Logger
	obs    Observer
}

func NewEngine(assets AssetReader, ledger market.LedgerStore, locks Locker, logger *slog.Logger, obs Observer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = NewMemoryLocker()
	}
	return &Engine{assets: assets, ledger: ledger, locks: locks, log: logger, obs: obs}
}

func (e *Engine) Buy(ctx context.Context, userID, tag string, qty int64) (Result, error) {
	return e.Execute(ctx, SideBuy, userID, tag, qty)
}

func (e *Engine) Sell(ctx context.Context, userID, tag string, qty int64) (Result, error) {
	return e.Execute(ctx, SideSell, userID, tag, qty)
}

// Execute runs one trade. The price observed while validating is used for the whole
// trade even if the walker moves it before commit.
func (e *Engine) Execute(ctx context.Context, side Side, userID, tag string, qty int64) (Result, error) {
	res := Result{
		ID:       uuid.NewString(),
		State:    StatePending,
		Side:     side,
		UserID:   userID,
		Tag:      market.NormalizeTag(tag),
		Quantity: qty,
	}
	res, err := e.execute(ctx, res)
	if err != nil {
		res.State = StateRejected
		res.Reason = ReasonCode(err)
		if errors.Is(err, market.ErrStorageUnavailable) || errors.Is(err, market.ErrConflict) {
			e.log.Error("trade aborted", "trade_id", res.ID, "user_id", userID, "side", side, "tag", res.Tag, "err", err)
		} else {
			e.log.Info("trade rejected", "trade_id", res.ID, "user_id", userID, "side", side, "tag", res.Tag, "reason", res.Reason)
		}
	} else {
		e.log.Info("trade completed", "trade_id", res.ID, "user_id", userID, "side", side, "tag", res.Tag,
			"quantity", qty, "amount", res.Amount, "price", res.Price.String())
	}
	if e.obs != nil {
		e.obs.ObserveTrade(string(side), string(res.State))
	}
	return res, err
}

func (e *Engine) execute(ctx context.Context, res Result) (Result, error) {
	res = e.advance(res, StateValidating)
	if res.Side != SideBuy && res.Side != SideSell {
		return res, fmt.Errorf("side must be buy or sell")
	}
	if strings.TrimSpace(res.UserID) == "" {
		return res, fmt.Errorf("user id is required")
	}
	if res.Quantity < 1 {
		return res, market.ErrInvalidQuantity
	}
	asset, ok, err := e.assets.Get(ctx, res.Tag)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, market.ErrUnknownAsset
	}
	res.Tag = asset.Tag
	res.Price = asset.Price

	unlock, err := e.locks.TryLock(ctx, res.UserID)
	if err != nil {
		return res, err
	}
	defer unlock()

	acct, err := e.ledger.GetOrCreate(ctx, res.UserID)
	if err != nil {
		return res, err
	}
	amount, err := market.TradeAmount(asset.Price, res.Quantity)
	if err != nil {
		return res, err
	}
	res.Amount = amount
	res.Balance = acct.Balance

	next := acct.Clone()
	switch res.Side {
	case SideBuy:
		if amount > acct.Balance {
			return res, market.ErrInsufficientFunds
		}
		next.Balance -= amount
		next.Holdings[asset.Tag] += res.Quantity
	case SideSell:
		held := acct.Holdings[asset.Tag]
		if res.Quantity > held {
			return res, market.ErrInsufficientHoldings
		}
		if acct.Balance > math.MaxInt64-amount {
			return res, market.ErrBalanceLimit
		}
		next.Balance += amount
		next.Holdings[asset.Tag] = held - res.Quantity
		if next.Holdings[asset.Tag] == 0 {
			delete(next.Holdings, asset.Tag)
		}
	}

	res = e.advance(res, StateCommitting)
	if err := e.ledger.Commit(ctx, next); err != nil {
		return res, err
	}
	res.Balance = next.Balance
	return e.advance(res, StateCompleted), nil
}

func (e *Engine) advance(res Result, to State) Result {
	e.log.Debug("trade state", "trade_id", res.ID, "from", res.State, "to", to)
	res.State = to
	return res
}

// ReasonCode is the stable machine-readable name of a rejection.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, market.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, market.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, market.ErrUserBusy):
		return "user_busy"
	case errors.Is(err, market.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, market.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, market.ErrBalanceLimit):
		return "balance_limit"
	case errors.Is(err, market.ErrConflict):
		return "conflict"
	case errors.Is(err, market.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "invalid_request"
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, market.ErrUserBusy) ||
		errors.Is(err, market.ErrConflict) ||
		errors.Is(err, market.ErrStorageUnavailable)
}
