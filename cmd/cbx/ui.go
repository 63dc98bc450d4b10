package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"cryptobot/internal/cli"
	"cryptobot/internal/market"
	"cryptobot/internal/trade"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptTag(label string) (string, error) {
	for {
		tag, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		tag = market.NormalizeTag(tag)
		if err := market.ValidateTag(tag); err != nil {
			printWarn(err.Error())
			continue
		}
		return tag, nil
	}
}

func renderAssets(assets []market.Asset) {
	accent.Println("\n== CRYPTO MARKET ==")
	if len(assets) == 0 {
		printInfo("No cryptos found.")
		return
	}
	fmt.Printf("%-5s %-32s %12s %10s\n", "TAG", "NAME", "PRICE", "CHANGES")
	for _, a := range assets {
		fmt.Printf("%-5s %-32s %12s %10d\n", a.Tag, truncate(a.Name, 32), a.Price.StringFixed(2), a.Volatility)
	}
	fmt.Println()
}

func renderHistory(h cli.HistoryResponse, period string) {
	accent.Printf("\n== %s (%s/$) - %s changes ==\n", h.Asset.Name, h.Asset.Tag, period)
	fmt.Printf("Current: %s$\n", h.Summary.Current.StringFixed(2))
	fmt.Printf("Open:    %s$\n", h.Summary.Open.StringFixed(2))
	fmt.Printf("Change:  %s (%s)\n", colorizeDecimal(h.Summary.Delta), colorizePercent(h.Summary.Percent, h.Summary.Direction))
	fmt.Printf("Range:   %s$ - %s$\n", h.Summary.Low.StringFixed(2), h.Summary.High.StringFixed(2))

	if len(h.Samples) > 0 {
		fmt.Println()
		accent.Println("Recent Ticks")
		fmt.Printf("%-20s %12s\n", "TIME", "PRICE")
		limit := len(h.Samples)
		if limit > 8 {
			limit = 8
		}
		for i := 0; i < limit; i++ {
			s := h.Samples[i]
			fmt.Printf("%-20s %12s\n", s.RecordedAt.Local().Format("2006-01-02 15:04"), s.Price.StringFixed(2))
		}
	}
	fmt.Println()
}

func renderTradeResult(res trade.Result) {
	accent.Printf("\n== %s %s ==\n", strings.ToUpper(string(res.Side)), res.Tag)
	fmt.Printf("Quantity: %d\n", res.Quantity)
	fmt.Printf("Price:    %s$\n", res.Price.StringFixed(2))
	fmt.Printf("Amount:   %d$\n", res.Amount)
	fmt.Printf("Balance:  %d$\n", res.Balance)
	fmt.Println()
}

func renderAccount(acct market.Account) {
	accent.Printf("\n== BALANCE (%s) ==\n", acct.UserID)
	fmt.Printf("Balance: %d$\n", acct.Balance)
	if len(acct.Holdings) == 0 {
		printInfo("No holdings yet.")
		fmt.Println()
		return
	}
	tags := make([]string, 0, len(acct.Holdings))
	for tag := range acct.Holdings {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	fmt.Println()
	fmt.Printf("%-5s %10s\n", "TAG", "QTY")
	for _, tag := range tags {
		fmt.Printf("%-5s %10d\n", tag, acct.Holdings[tag])
	}
	fmt.Println()
}

func colorizeDecimal(v decimal.Decimal) string {
	text := v.StringFixed(2)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal, dir market.Direction) string {
	text := v.StringFixed(2) + "%"
	switch dir {
	case market.DirectionUp:
		return success.Sprint("↑" + text)
	case market.DirectionDown:
		return danger.Sprint("↓" + text)
	default:
		return neutral.Sprint("=" + text)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
