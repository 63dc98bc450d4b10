package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cryptobot/internal/market"
	"cryptobot/internal/trade"

	"github.com/shopspring/decimal"
)

const embedColor = 0x66C4D8

// Reply is a front-end neutral answer to one command.
type Reply struct {
	Content   string
	Ephemeral bool
	Title     string
	Fields    []Field
}

type Field struct {
	Name  string
	Value string
}

// Handler implements the bot commands on top of the market engine.
type Handler struct {
	registry *market.Registry
	ledger   market.LedgerStore
	engine   *trade.Engine
	log      *slog.Logger
	now      func() time.Time
}

func NewHandler(registry *market.Registry, ledger market.LedgerStore, engine *trade.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		ledger:   ledger,
		engine:   engine,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Create(ctx context.Context, tag, name string, price, volatility int64) Reply {
	a, err := h.registry.Create(ctx, tag, name, decimal.NewFromInt(price), volatility)
	switch {
	case errors.Is(err, market.ErrDuplicateAsset):
		return failure(fmt.Sprintf("Crypto with tag `%s` already exists.", market.NormalizeTag(tag)))
	case errors.Is(err, market.ErrInvalidAsset):
		return failure(err.Error())
	case err != nil:
		return h.internal("create", err)
	}
	return success(fmt.Sprintf("Crypto with tag `%s` created successfully with price %s.", a.Tag, a.Price))
}

func (h *Handler) Remove(ctx context.Context, tag string) Reply {
	err := h.registry.Remove(ctx, tag)
	switch {
	case errors.Is(err, market.ErrNotFound):
		return failure(fmt.Sprintf("Crypto with tag `%s` does not exist.", market.NormalizeTag(tag)))
	case err != nil:
		return h.internal("remove", err)
	}
	return success(fmt.Sprintf("Crypto with tag `%s` deleted successfully.", market.NormalizeTag(tag)))
}

func (h *Handler) Balance(ctx context.Context, userID, displayName string, self bool) Reply {
	acct, ok, err := h.ledger.Get(ctx, userID)
	if err != nil {
		return h.internal("balance", err)
	}
	if !ok {
		if self {
			return failure("You do not have any balance yet.")
		}
		return failure(fmt.Sprintf("%s does not have any balance yet.", displayName))
	}
	tags := make([]string, 0, len(acct.Holdings))
	for tag := range acct.Holdings {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	reply := Reply{
		Title:   displayName,
		Content: fmt.Sprintf("> Balance: `%d$`", acct.Balance),
	}
	for _, tag := range tags {
		reply.Fields = append(reply.Fields, Field{Name: tag, Value: fmt.Sprintf("`%d`", acct.Holdings[tag])})
	}
	return reply
}

func (h *Handler) Trade(ctx context.Context, side trade.Side, userID, tag string, qty int64) Reply {
	res, err := h.engine.Execute(ctx, side, userID, tag, qty)
	if err == nil {
		verb := "bought"
		if side == trade.SideSell {
			verb = "sold"
		}
		return success(fmt.Sprintf("You have %s `%d` of `%s` for `%d$`.", verb, res.Quantity, res.Tag, res.Amount))
	}
	switch {
	case errors.Is(err, market.ErrInvalidQuantity):
		return failure(fmt.Sprintf("You must %s at least 1 crypto.", side))
	case errors.Is(err, market.ErrUnknownAsset):
		return failure("Invalid crypto tag.")
	case errors.Is(err, market.ErrUserBusy):
		return failure("You already have a trade in progress, try again in a moment.")
	case errors.Is(err, market.ErrInsufficientFunds):
		return failure("You do not have enough money to buy this crypto.")
	case errors.Is(err, market.ErrInsufficientHoldings):
		return failure(fmt.Sprintf("You do not have enough `%s` to sell.", res.Tag))
	case errors.Is(err, market.ErrBalanceLimit):
		return failure("This sale would push your balance past the maximum.")
	case trade.Retryable(err):
		return failure("The market is temporarily unavailable, please retry.")
	default:
		return h.internal("trade", err)
	}
}

func (h *Handler) Graph(ctx context.Context, tag, period string) Reply {
	d, err := market.ParsePeriod(period)
	if err != nil {
		return failure(err.Error())
	}
	a, samples, err := h.registry.History(ctx, tag, h.now().Add(-d))
	if errors.Is(err, market.ErrUnknownAsset) {
		return failure("Invalid crypto tag.")
	}
	if err != nil {
		return h.internal("graph", err)
	}
	sum := market.Summarize(samples, a.Price)
	symbol := "="
	switch sum.Direction {
	case market.DirectionUp:
		symbol = "↑"
	case market.DirectionDown:
		symbol = "↓"
	}
	return Reply{
		Title:   fmt.Sprintf("%s (%s/$) - %s changes      %s$      %s%s%%", a.Name, a.Tag, period, a.Price, symbol, sum.Percent.StringFixed(2)),
		Content: fmt.Sprintf("Low `%s$` · High `%s$` · Open `%s$` · %d samples", sum.Low, sum.High, sum.Open, sum.Samples),
	}
}

func (h *Handler) Autocomplete(ctx context.Context, fragment string) []string {
	tags, err := h.registry.Search(ctx, fragment)
	if err != nil {
		h.log.Warn("autocomplete failed", "err", err)
		return nil
	}
	return tags
}

func (h *Handler) internal(op string, err error) Reply {
	h.log.Error("command failed", "command", op, "err", err)
	return failure("Something went wrong, please try again later.")
}

func success(msg string) Reply {
	return Reply{Content: "✅ " + msg}
}

func failure(msg string) Reply {
	return Reply{Content: "❌ " + msg, Ephemeral: true}
}
