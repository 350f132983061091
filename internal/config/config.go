package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	TerminalID string
	CashierID  string

	LocalDBDriver string
	LocalDBDSN    string

	BackendURL     string
	BackendSecret  string
	BackendTimeout time.Duration

	OutboxPollInterval    time.Duration
	OutboxMaxAttempts     int
	OutboxBaseBackoff     time.Duration
	OutboxMaxBackoff      time.Duration
	OutboxBatchSize       int
	OutboxRateLimit       float64
	OutboxLaneConcurrency int

	ConnectivityInterval   time.Duration
	CatalogRefreshInterval time.Duration

	AMQPURL      string
	AMQPExchange string

	TaxRate decimal.Decimal
}

var defaults = map[string]any{
	"APP_ENV":                  "development",
	"HTTP_ADDR":                ":8085",
	"TERMINAL_ID":              "terminal-1",
	"CASHIER_ID":               "cashier-1",
	"LOCAL_DB_DRIVER":          "sqlite3",
	"LOCAL_DB_DSN":             "./pos-staging.db",
	"BACKEND_URL":              "http://localhost:8080",
	"BACKEND_TIMEOUT":          "15s",
	"OUTBOX_POLL_INTERVAL":     "5s",
	"OUTBOX_MAX_ATTEMPTS":      5,
	"OUTBOX_BASE_BACKOFF":      "2s",
	"OUTBOX_MAX_BACKOFF":       "2m",
	"OUTBOX_BATCH_SIZE":        100,
	"OUTBOX_RATE_LIMIT":        10.0,
	"OUTBOX_LANE_CONCURRENCY":  4,
	"CONNECTIVITY_INTERVAL":    "10s",
	"CATALOG_REFRESH_INTERVAL": "1m",
	"AMQP_EXCHANGE":            "pos.cart",
	"TAX_RATE":                 "0",
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	taxRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("TAX_RATE")))
	if err != nil {
		taxRate = decimal.Zero
	}

	return &Config{
		AppEnv:   v.GetString("APP_ENV"),
		HTTPAddr: v.GetString("HTTP_ADDR"),

		TerminalID: v.GetString("TERMINAL_ID"),
		CashierID:  v.GetString("CASHIER_ID"),

		LocalDBDriver: v.GetString("LOCAL_DB_DRIVER"),
		LocalDBDSN:    v.GetString("LOCAL_DB_DSN"),

		BackendURL:     strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
		BackendSecret:  v.GetString("BACKEND_SECRET"),
		BackendTimeout: v.GetDuration("BACKEND_TIMEOUT"),

		OutboxPollInterval:    v.GetDuration("OUTBOX_POLL_INTERVAL"),
		OutboxMaxAttempts:     v.GetInt("OUTBOX_MAX_ATTEMPTS"),
		OutboxBaseBackoff:     v.GetDuration("OUTBOX_BASE_BACKOFF"),
		OutboxMaxBackoff:      v.GetDuration("OUTBOX_MAX_BACKOFF"),
		OutboxBatchSize:       v.GetInt("OUTBOX_BATCH_SIZE"),
		OutboxRateLimit:       v.GetFloat64("OUTBOX_RATE_LIMIT"),
		OutboxLaneConcurrency: v.GetInt("OUTBOX_LANE_CONCURRENCY"),

		ConnectivityInterval:   v.GetDuration("CONNECTIVITY_INTERVAL"),
		CatalogRefreshInterval: v.GetDuration("CATALOG_REFRESH_INTERVAL"),

		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),

		TaxRate: taxRate,
	}
}

// Validate reports every setting that would make the terminal misbehave.
func (c *Config) Validate() error {
	var errs []error

	switch c.LocalDBDriver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported LOCAL_DB_DRIVER %q", c.LocalDBDriver))
	}
	if c.LocalDBDSN == "" {
		errs = append(errs, errors.New("LOCAL_DB_DSN is required"))
	}
	if c.CashierID == "" {
		errs = append(errs, errors.New("CASHIER_ID is required"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.TaxRate.IsNegative() {
		errs = append(errs, errors.New("TAX_RATE must not be negative"))
	}

	return errors.Join(errs...)
}
