package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/selhaddad/paystream/internal/notify"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the event stream",
	Long:  `Hold the session open and print every notification as it arrives.`,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, err := newApp(notify.AlertFunc(func(n notify.Notification) error {
		switch n.Kind {
		case notify.KindOtpIssued:
			fmt.Printf("[otp] intent %s code %s\n", n.IntentID, n.OtpCode)
		case notify.KindPaymentCommitted:
			fmt.Printf("[commit] transaction %s balance %s\n",
				n.TransactionID, formatMinor(n.NewBalanceMinor))
		default:
			fmt.Printf("[%s] %s\n", n.Title, n.Message)
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
	fmt.Printf("watching events for %s (state: %s)\n", app.sess.Identity(), app.sess.State())

	<-ctx.Done()
	return nil
}
