package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var workDir string

var rootCmd = &cobra.Command{
	Use:   "tidebook",
	Short: "Offline-first financial document ledger",
	Long: `tidebook keeps financial documents (invoices, receipts, payment
vouchers, statements of payment) in a local durable cache, queues
mutations made while offline, and replays them against the remote store
when connectivity returns.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", ".tidebook", "workspace directory")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(accountCmd)
}
