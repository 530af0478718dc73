package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/selhaddad/paystream/internal/notify"
	"github.com/selhaddad/paystream/internal/payment"
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Pay a bill or transfer money",
	Long: `Create a payment intent and drive it through OTP confirmation.
The confirmation code arrives on the event stream; the command waits for it,
submits it, and prints each state the intent passes through.`,
	RunE: runPay,
}

func init() {
	payCmd.Flags().StringP("amount", "a", "", "Amount to pay, e.g. 150.00")
	payCmd.Flags().StringP("to", "t", "", "Counterparty account reference (RIB)")
	payCmd.Flags().StringP("bill", "b", "", "Bill reference for bill payments")
	payCmd.MarkFlagRequired("amount")
	payCmd.MarkFlagRequired("to")
}

func runPay(cmd *cobra.Command, args []string) error {
	amount, _ := cmd.Flags().GetString("amount")
	to, _ := cmd.Flags().GetString("to")
	bill, _ := cmd.Flags().GetString("bill")

	app, err := newApp(notify.AlertFunc(func(n notify.Notification) error {
		if n.Kind == notify.KindGeneric && n.Title != "" {
			fmt.Printf("  [%s] %s\n", n.Title, n.Message)
		}
		return nil
	}))
	if err != nil {
		return err
	}
	defer app.shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := app.start(ctx); err != nil {
		return err
	}
	if err := app.waitReady(ctx, 15*time.Second); err != nil {
		return err
	}

	updates, err := app.orch.SubmitIntent(ctx, payment.Request{
		Amount:          amount,
		CounterpartyRef: to,
		BillReference:   bill,
	})
	if err != nil {
		return err
	}

	var last payment.Intent
	for intent := range updates {
		last = intent
		fmt.Printf("  %s\n", intent.State)
	}

	switch last.State {
	case payment.StateCommitted:
		fmt.Printf("payment committed: transaction %s, balance %s\n",
			last.TransactionID, formatMinor(app.ledger.Balance()))
		return nil
	default:
		return fmt.Errorf("payment failed: %s", last.FailureReason)
	}
}

func formatMinor(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
