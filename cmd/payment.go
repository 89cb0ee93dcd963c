package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var paymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Inspect stored payments",
}

var showPaymentCmd = &cobra.Command{
	Use:   "show [transaction-id]",
	Short: "Print one payment as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newOneShot()
		if err != nil {
			return err
		}
		defer job.cleanup()

		p, err := job.stack.Service.GetByTransactionID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}

var listPaymentsCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the most recent payments as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		job, err := newOneShot()
		if err != nil {
			return err
		}
		defer job.cleanup()

		payments, err := job.stack.Service.ListRecent(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(payments)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	paymentCmd.AddCommand(showPaymentCmd)
	paymentCmd.AddCommand(listPaymentsCmd)

	rootCmd.AddCommand(paymentCmd)
}
