package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the account balance",
	Long: `Print the locally reconciled balance. With --remote, fetch the
authoritative server-side balance instead.`,
	RunE: runBalance,
}

func init() {
	balanceCmd.Flags().Bool("remote", false, "Fetch the balance from the backend")
}

func runBalance(cmd *cobra.Command, args []string) error {
	remote, _ := cmd.Flags().GetBool("remote")

	app, err := newApp(nil)
	if err != nil {
		return err
	}
	defer app.shutdown()

	if remote {
		acc, err := app.client.GetAccount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (server)\n", formatMinor(acc.BalanceMinor), app.cfg.Client.Currency)
		return nil
	}

	view := app.ledger.View()
	fmt.Printf("%s %s", formatMinor(view.BalanceMinor), app.cfg.Client.Currency)
	if view.LastAppliedTransactionID != "" {
		fmt.Printf(" (last transaction %s)", view.LastAppliedTransactionID)
	}
	fmt.Println()
	return nil
}
