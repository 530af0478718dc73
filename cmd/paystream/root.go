package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "paystream",
	Short: "Mobile banking confirmation pipeline client",
	Long: `paystream drives the real-time transaction confirmation pipeline:
it holds the authenticated event stream open, walks payment intents through
the OTP challenge, and reconciles committed balances exactly once.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(watchCmd)
}
