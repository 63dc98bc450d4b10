package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptobot/internal/cli"
	"cryptobot/internal/config"
	"cryptobot/internal/market"
	"cryptobot/internal/trade"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	adminToken := cfg.AdminToken

	root := &cobra.Command{
		Use:          "cbx",
		Short:        "Cryptobot market CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&adminToken, "admin-token", adminToken, "admin token for asset management")

	newClient := func() *cli.Client {
		return cli.NewClient(strings.TrimSpace(apiBase), strings.TrimSpace(adminToken))
	}

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newAssetsCmd(newClient),
		newTradeCmd(newClient, trade.SideBuy),
		newTradeCmd(newClient, trade.SideSell),
		newBalanceCmd(newClient),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [user-id]",
		Short: "Remember the user id to trade as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) > 0 {
				userID = strings.TrimSpace(args[0])
			} else {
				v, err := promptRequired("User id")
				if err != nil {
					return err
				}
				userID = v
			}
			if err := cli.SaveProfile(cli.Profile{UserID: userID}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Trading as %s.", userID))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAssetsCmd(newClient func() *cli.Client) *cobra.Command {
	assets := &cobra.Command{
		Use:     "assets",
		Short:   "Crypto market commands",
		Aliases: []string{"crypto"},
	}

	assets.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cryptos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient().ListAssets(ctx)
			if err != nil {
				return err
			}
			renderAssets(out)
			return nil
		},
	})

	var period string
	show := &cobra.Command{
		Use:   "show [tag]",
		Short: "Show price changes of a crypto",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := tagFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			if _, err := market.ParsePeriod(period); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient().History(ctx, tag, period)
			if err != nil {
				return err
			}
			renderHistory(out, period)
			return nil
		},
	}
	show.Flags().StringVar(&period, "period", "day", "hour, day or week")
	assets.AddCommand(show)

	var name, price string
	var changes int64
	create := &cobra.Command{
		Use:   "create [tag]",
		Short: "Create a new crypto (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := tagFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				if name, err = promptRequired("Name"); err != nil {
					return err
				}
			}
			if strings.TrimSpace(price) == "" {
				if price, err = promptRequired("Starting price"); err != nil {
					return err
				}
			}
			start, err := decimal.NewFromString(strings.TrimSpace(price))
			if err != nil {
				return fmt.Errorf("invalid price %q", price)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := newClient().CreateAsset(ctx, tag, name, start, changes)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Crypto with tag %s created successfully with price %s.", a.Tag, a.Price))
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (max 32 chars)")
	create.Flags().StringVar(&price, "price", "", "starting price")
	create.Flags().Int64Var(&changes, "changes", 10, "maximum price change per tick")
	assets.AddCommand(create)

	assets.AddCommand(&cobra.Command{
		Use:   "remove [tag]",
		Short: "Remove a crypto (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := tagFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient().RemoveAsset(ctx, tag); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Crypto with tag %s deleted successfully.", tag))
			return nil
		},
	})
	return assets
}

func newTradeCmd(newClient func() *cli.Client, side trade.Side) *cobra.Command {
	return &cobra.Command{
		Use:   string(side) + " [tag] [amount]",
		Short: strings.ToUpper(string(side[:1])) + string(side[1:]) + " crypto",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := cli.LoadProfile()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			tag, err := tagFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			qty, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := newClient().Trade(ctx, profile.UserID, side, tag, qty)
			if err != nil {
				var apiErr *cli.APIError
				if errors.As(err, &apiErr) && apiErr.Retryable {
					printWarn("The market is busy, try again in a moment.")
				}
				return err
			}
			renderTradeResult(res)
			return nil
		},
	}
}

func newBalanceCmd(newClient func() *cli.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [user-id]",
		Short: "Show a balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) > 0 {
				userID = strings.TrimSpace(args[0])
			} else {
				profile, err := cli.LoadProfile()
				if err != nil {
					return fmt.Errorf("login required: %w", err)
				}
				userID = profile.UserID
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			acct, err := newClient().Account(ctx, userID)
			if err != nil {
				var apiErr *cli.APIError
				if errors.As(err, &apiErr) && apiErr.Status == 404 {
					printInfo(fmt.Sprintf("%s does not have any balance yet.", userID))
					return nil
				}
				return err
			}
			renderAccount(acct)
			return nil
		},
	}
}

func tagFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		tag := market.NormalizeTag(args[0])
		if err := market.ValidateTag(tag); err != nil {
			return "", err
		}
		return tag, nil
	}
	return promptTag("Tag")
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
