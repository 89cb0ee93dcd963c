package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway-shim/api"
	"github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/cache"
	"github.com/frahmantamala/payment-gateway-shim/internal/payment"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport/middleware"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport/rest"
)

const shutdownTimeout = 30 * time.Second

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server serving the payments API, gateway webhooks and API docs`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Redis    *redis.Client
	NewRelic *newrelic.Application
	Payments *paymentStack
	Router   *chi.Mux
	Logger   *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		deps.Logger.Error("failed to set up routes", "error", err)
		deps.close()
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "env", deps.Config.Server.Env)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.Payments.EventBus.Drain(ctx); err != nil {
			deps.Logger.Warn("event handlers still running at shutdown", "error", err)
		}
		deps.close()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.close()
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) error {
	validator, err := middleware.NewOpenAPIValidator(context.Background(), api.Spec)
	if err != nil {
		return err
	}

	var idempotency func(http.Handler) http.Handler
	if deps.Redis != nil {
		idempotency = middleware.Idempotency(
			cache.NewIdempotencyStore(deps.Redis),
			deps.Config.Redis.IdempotencyTTL,
			deps.Logger,
		)
	}

	base := transport.NewBaseHandler(deps.Logger)
	service := deps.Payments.Service

	rest.RegisterAllRoutes(deps.Router, rest.Routes{
		DB:             deps.DB.DB,
		Redis:          deps.Redis,
		PaymentHandler: payment.NewHandler(base, service, deps.Logger),
		WebhookHandler: payment.NewWebhookHandler(base, service, deps.Config.Gateway.WebhookSecret, deps.Logger),
		Idempotency:    idempotency,
		Validator:      validator,
		NewRelic:       deps.NewRelic,
		AllowedOrigins: deps.Config.Server.CORSAllowedOrigins,
		Logger:         deps.Logger,
	})
	return nil
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := initLogger(config)
	nrApp := initNewRelic(config.Observability.Tracing, lg)

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := openGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if config.Redis.Enabled() {
		ctx, cancel := internal.WithTimeout(context.Background(), internal.DefaultOperationTimeout)
		defer cancel()
		redisClient, err = cache.NewRedisClient(ctx, config.Redis, nrApp)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		lg.Info("Idempotency-Key replay enabled", "redis_addr", config.Redis.Addr)
	}

	if !config.Gateway.IsConfigured() {
		lg.Warn("payment gateway credentials missing; session and status requests will fail until configured")
	}

	return &Dependencies{
		Config:   config,
		DB:       db,
		Redis:    redisClient,
		NewRelic: nrApp,
		Payments: newPaymentStack(config, gormDB, nrApp, lg),
		Router:   chi.NewRouter(),
		Logger:   lg,
	}, nil
}

func (d *Dependencies) close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
	if d.NewRelic != nil {
		d.NewRelic.Shutdown(5 * time.Second)
	}
}
