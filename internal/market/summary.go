package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Summary compares the oldest sample of a window with the live price.
type Summary struct {
	Open      decimal.Decimal `json:"open"`
	Current   decimal.Decimal `json:"current"`
	Low       decimal.Decimal `json:"low"`
	High      decimal.Decimal `json:"high"`
	Delta     decimal.Decimal `json:"delta"`
	Percent   decimal.Decimal `json:"percent"`
	Direction Direction       `json:"direction"`
	Samples   int             `json:"samples"`
}

// Summarize expects samples newest first, as QuerySamples returns them. With no
// samples the window opens at the current price.
func Summarize(samples []PriceSample, current decimal.Decimal) Summary {
	out := Summary{
		Open:    current,
		Current: current,
		Low:     current,
		High:    current,
		Samples: len(samples),
	}
	if len(samples) > 0 {
		out.Open = samples[len(samples)-1].Price
	}
	for _, s := range samples {
		if s.Price.LessThan(out.Low) {
			out.Low = s.Price
		}
		if s.Price.GreaterThan(out.High) {
			out.High = s.Price
		}
	}
	out.Delta = current.Sub(out.Open)
	switch out.Delta.Sign() {
	case 1:
		out.Direction = DirectionUp
	case -1:
		out.Direction = DirectionDown
	default:
		out.Direction = DirectionFlat
	}
	out.Percent = decimal.Zero
	if out.Open.IsPositive() {
		out.Percent = out.Delta.Abs().Mul(decimal.NewFromInt(100)).Div(out.Open).Round(2)
	}
	return out
}

var periods = map[string]time.Duration{
	"hour": time.Hour,
	"day":  24 * time.Hour,
	"week": 7 * 24 * time.Hour,
}

func ParsePeriod(period string) (time.Duration, error) {
	d, ok := periods[strings.ToLower(strings.TrimSpace(period))]
	if !ok {
		return 0, fmt.Errorf("period must be hour, day or week")
	}
	return d, nil
}
