package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway-shim/internal/payment"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll the gateway for payments still pending",
	Long: `Run one reconciliation pass: load payments in the given statuses, poll the
gateway for each through a bounded worker pool and store what it reports.
Schedule it from cron to recover from lost webhooks.`,
	RunE: runReconcile,
}

var (
	reconcileWorkers  int
	reconcileLimit    int
	reconcileStatuses []string
)

// oneShot bundles what a CLI job needs and how to tear it down.
type oneShot struct {
	stack   *paymentStack
	logger  *slog.Logger
	cleanup func()
}

func newOneShot() (*oneShot, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := initLogger(cfg)

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gormDB, err := openGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	stack := newPaymentStack(cfg, gormDB, nil, lg)
	return &oneShot{
		stack:  stack,
		logger: lg,
		cleanup: func() {
			_ = stack.EventBus.Drain(context.Background())
			if err := db.Close(); err != nil {
				lg.Error("Database close error", "error", err)
			}
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	job, err := newOneShot()
	if err != nil {
		return err
	}
	defer job.cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	reconciler := payment.NewReconciler(job.stack.Service, job.stack.Payments, payment.ReconcilerConfig{
		MaxWorkers: reconcileWorkers,
		Limit:      reconcileLimit,
		Statuses:   reconcileStatuses,
	}, job.logger)

	summary, err := reconciler.Run(ctx)
	if summary != nil {
		fmt.Fprintf(os.Stdout, "scanned=%d updated=%d failed=%d\n", summary.Scanned, summary.Updated, summary.Failed)
	}
	return err
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileWorkers, "workers", payment.DefaultReconcileWorkers, "number of concurrent gateway polls")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", payment.DefaultReconcileLimit, "maximum payments loaded per status")
	reconcileCmd.Flags().StringSliceVar(&reconcileStatuses, "status", []string{"pending"}, "payment statuses to reconcile")

	rootCmd.AddCommand(reconcileCmd)
}
