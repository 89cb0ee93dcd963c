package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	GatewayModeSandbox    = "sandbox"
	GatewayModeProduction = "production"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	Env               string        `mapstructure:"env"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	// CORSAllowedOrigins is empty to allow any origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// GatewayConfig holds the payment processor credentials. Missing keys are
// not a boot failure; requests that need them fail with a configuration error.
type GatewayConfig struct {
	PublicKey          string        `mapstructure:"public_key"`
	SecretKey          string        `mapstructure:"secret_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Mode               string        `mapstructure:"mode"`
	SandboxCheckoutURL string        `mapstructure:"sandbox_checkout_url"`
	CheckoutURL        string        `mapstructure:"checkout_url"`
	ReturnURL          string        `mapstructure:"return_url"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// RedisConfig enables Idempotency-Key replay on session creation when Addr is set.
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type ObservabilityConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	LicenseKey  string `mapstructure:"license_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration from plain environment variables
// for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               getEnvAsInt("PORT", 8080),
			Env:                getEnv("APP_ENV", "production"),
			ReadHeaderTimeout:  getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:        getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:       getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Gateway: GatewayConfig{
			PublicKey:          getEnv("SAFEPAY_PUBLIC_KEY", ""),
			SecretKey:          getEnv("SAFEPAY_SECRET_KEY", ""),
			BaseURL:            getEnv("SAFEPAY_BASE_URL", ""),
			Mode:               getEnv("SAFEPAY_MODE", GatewayModeSandbox),
			SandboxCheckoutURL: getEnv("SAFEPAY_SANDBOX_CHECKOUT_URL", "https://sandbox.api.getsafepay.com"),
			CheckoutURL:        getEnv("SAFEPAY_CHECKOUT_URL", "https://getsafepay.com"),
			ReturnURL:          getEnv("SAFEPAY_RETURN_URL", ""),
			WebhookSecret:      getEnv("SAFEPAY_WEBHOOK_SECRET", ""),
			Timeout:            getEnvAsDuration("SAFEPAY_TIMEOUT", 15*time.Second),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			IdempotencyTTL: getEnvAsDuration("REDIS_IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     getEnvAsBool("NEW_RELIC_ENABLED", false),
				ServiceName: getEnv("NEW_RELIC_APP_NAME", "payment-gateway-shim"),
				LicenseKey:  getEnv("NEW_RELIC_LICENSE_KEY", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("observability config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// Validate only checks values that are present; absent credentials are
// reported per request instead.
func (c *GatewayConfig) Validate() error {
	if c.Mode != "" && c.Mode != GatewayModeSandbox && c.Mode != GatewayModeProduction {
		return fmt.Errorf("mode must be %q or %q, got %q", GatewayModeSandbox, GatewayModeProduction, c.Mode)
	}
	for name, raw := range map[string]string{
		"base_url":             c.BaseURL,
		"checkout_url":         c.CheckoutURL,
		"sandbox_checkout_url": c.SandboxCheckoutURL,
		"return_url":           c.ReturnURL,
	} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid %s %s: %w", name, raw, err)
		}
	}
	if c.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}

// IsConfigured reports whether credentials and the API base URL are all set.
func (c *GatewayConfig) IsConfigured() bool {
	return c.PublicKey != "" && c.SecretKey != "" && c.BaseURL != ""
}

func (c *ObservabilityConfig) Validate() error {
	if c.Tracing.Enabled && c.Tracing.LicenseKey == "" {
		return errors.New("tracing.license_key is required when tracing is enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}
