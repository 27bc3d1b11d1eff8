package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tidebook/tidebook/internal/domain"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage ledger accounts",
}

func init() {
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountShowCmd)
}

var accountAddCmd = &cobra.Command{
	Use:   "add <name> <currency> [opening-balance]",
	Short: "Create a ledger account",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		balance := decimal.Zero
		if len(args) == 3 {
			balance, err = decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid opening balance %q: %w", args[2], err)
			}
		}

		now := time.Now().UTC()
		acct := &domain.Account{
			ID:             uuid.NewString(),
			CompanyID:      a.cfg.CompanyID,
			Name:           args[0],
			Currency:       args[1],
			CurrentBalance: balance,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := a.remote.UpsertAccount(ctx, acct); err != nil {
			return err
		}
		fmt.Printf("Created account %s (%s)\n", acct.Name, acct.ID)
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an account and its balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		acct, err := a.remote.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Account: %s\n", acct.Name)
		fmt.Printf("Currency: %s\n", acct.Currency)
		fmt.Printf("Balance: %s\n", acct.CurrentBalance.StringFixed(2))
		fmt.Printf("Active: %v\n", acct.IsActive)
		return nil
	},
}
