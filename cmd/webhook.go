package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway-shim/internal/payment"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook management commands",
	Long:  `Inspect and re-apply gateway webhooks that could not be matched to a payment`,
}

var replayWebhookCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-apply stored unmatched webhooks",
	Long: `Re-run reconciliation for every unresolved stored webhook. An event is marked
resolved once its tracker matches a payment row.`,
	RunE: runWebhookReplay,
}

var replayLimit int

func runWebhookReplay(cmd *cobra.Command, _ []string) error {
	job, err := newOneShot()
	if err != nil {
		return err
	}
	defer job.cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := job.stack.Service.ReplayWebhookEvents(ctx, replayLimit)
	if summary != nil {
		fmt.Fprintf(os.Stdout, "scanned=%d resolved=%d pending=%d\n", summary.Scanned, summary.Resolved, summary.Pending)
	}
	return err
}

func init() {
	replayWebhookCmd.Flags().IntVar(&replayLimit, "limit", payment.DefaultReplayLimit, "maximum stored events replayed in one run")

	webhookCmd.AddCommand(replayWebhookCmd)

	rootCmd.AddCommand(webhookCmd)
}
