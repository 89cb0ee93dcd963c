package cmd

import (
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/newrelic/go-agent/v3/newrelic"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/events"
	"github.com/frahmantamala/payment-gateway-shim/internal/payment"
	paymentPostgres "github.com/frahmantamala/payment-gateway-shim/internal/payment/postgres"
	"github.com/frahmantamala/payment-gateway-shim/internal/paymentgateway"
	"github.com/frahmantamala/payment-gateway-shim/pkg/logger"
)

// paymentStack is the wiring shared by the server and the one-shot commands.
type paymentStack struct {
	Service       *payment.Service
	Payments      *paymentPostgres.PaymentRepository
	WebhookEvents *paymentPostgres.WebhookEventRepository
	EventBus      *events.EventBus
}

func initLogger(cfg *internal.Config) *slog.Logger {
	return logger.Init(logger.Options{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
}

// initDB opens the pgx-backed pool; the caller owns Close.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return dbConn, nil
}

// openGorm layers the repositories' ORM over the already-open pool so both
// share one set of connections.
func openGorm(db *sqlx.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gormDB, nil
}

// initNewRelic returns nil when tracing is disabled; an agent that fails to
// start is logged and skipped rather than blocking boot.
func initNewRelic(cfg internal.TracingConfig, lg *slog.Logger) *newrelic.Application {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.ServiceName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		lg.Error("failed to initialize New Relic", "error", err)
		return nil
	}
	lg.Info("New Relic enabled", "app", cfg.ServiceName)
	return app
}

func newGatewayClient(cfg internal.GatewayConfig, lg *slog.Logger) *paymentgateway.Client {
	return paymentgateway.NewClient(paymentgateway.Config{
		PublicKey:          cfg.PublicKey,
		SecretKey:          cfg.SecretKey,
		BaseURL:            cfg.BaseURL,
		Mode:               cfg.Mode,
		SandboxCheckoutURL: cfg.SandboxCheckoutURL,
		CheckoutURL:        cfg.CheckoutURL,
		Timeout:            cfg.Timeout,
	}, lg)
}

func newPaymentStack(cfg *internal.Config, gormDB *gorm.DB, nrApp *newrelic.Application, lg *slog.Logger) *paymentStack {
	eventBus := events.NewEventBus(lg)
	payment.NewEventHandler(nrApp, lg).RegisterEventHandlers(eventBus)

	payments := paymentPostgres.NewPaymentRepository(gormDB)
	webhookEvents := paymentPostgres.NewWebhookEventRepository(gormDB)

	service := payment.NewService(
		payments,
		webhookEvents,
		newGatewayClient(cfg.Gateway, lg),
		eventBus,
		cfg.Gateway.ReturnURL,
		lg,
	)

	return &paymentStack{
		Service:       service,
		Payments:      payments,
		WebhookEvents: webhookEvents,
		EventBus:      eventBus,
	}
}
