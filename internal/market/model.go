package market

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MaxTagLength  = 3
	MaxNameLength = 32
)

// MinPrice is the floor every asset price is clamped to.
var MinPrice = decimal.NewFromInt(1)

// MaxVolatility keeps the per-tick draw range [-v, +v] inside int64.
const MaxVolatility = math.MaxInt64 / 2

var (
	ErrInvalidAsset         = errors.New("invalid asset")
	ErrDuplicateAsset       = errors.New("asset already exists")
	ErrNotFound             = errors.New("not found")
	ErrUnknownAsset         = errors.New("unknown asset")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrUserBusy             = errors.New("another trade for this user is in flight")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConflict             = errors.New("account was modified concurrently")
	ErrBalanceLimit         = errors.New("balance would exceed the maximum")
)

var tagRE = regexp.MustCompile(`^[A-Z0-9]{1,3}$`)

type Asset struct {
	ID         int64           `json:"id"`
	Tag        string          `json:"tag"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Volatility int64           `json:"volatility"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type PriceSample struct {
	AssetID    int64           `json:"asset_id"`
	TickID     uuid.UUID       `json:"tick_id"`
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// PriceChange describes what one tick did to one asset.
type PriceChange struct {
	AssetID int64           `json:"asset_id"`
	Tag     string          `json:"tag"`
	Old     decimal.Decimal `json:"old"`
	New     decimal.Decimal `json:"new"`
}

type Account struct {
	UserID    string           `json:"user_id"`
	Balance   int64            `json:"balance"`
	Holdings  map[string]int64 `json:"holdings"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Clone returns a copy whose holdings map can be mutated freely.
func (a Account) Clone() Account {
	out := a
	out.Holdings = make(map[string]int64, len(a.Holdings))
	for tag, qty := range a.Holdings {
		out.Holdings[tag] = qty
	}
	return out
}

func (a Account) Holding(tag string) int64 {
	return a.Holdings[NormalizeTag(tag)]
}

func NewAccount(userID string, balance int64, now time.Time) Account {
	return Account{
		UserID:    userID,
		Balance:   balance,
		Holdings:  map[string]int64{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NormalizeTag(tag string) string {
	return strings.ToUpper(strings.TrimSpace(tag))
}

func ValidateTag(tag string) error {
	if !tagRE.MatchString(NormalizeTag(tag)) {
		return fmt.Errorf("%w: tag must be 1-%d letters or digits", ErrInvalidAsset, MaxTagLength)
	}
	return nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidAsset, MaxNameLength)
	}
	return nil
}

// ClampPrice applies delta to price and never returns less than MinPrice.
func ClampPrice(price decimal.Decimal, delta int64) decimal.Decimal {
	next := price.Add(decimal.NewFromInt(delta))
	if next.LessThan(MinPrice) {
		return MinPrice
	}
	return next
}

// TradeAmount is the whole-unit value of qty at price. Buys and sells use the same
// rounding so a round trip at an unchanged price is exact.
func TradeAmount(price decimal.Decimal, qty int64) (int64, error) {
	if qty < 1 {
		return 0, ErrInvalidQuantity
	}
	total := price.Mul(decimal.NewFromInt(qty)).Round(0)
	if !total.IsInteger() || total.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("trade amount overflow")
	}
	return total.IntPart(), nil
}
