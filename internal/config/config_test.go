package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		// t.Setenv restores the previous value when the test ends.
		t.Setenv("APP_ENV", "test")
		t.Setenv("TERMINAL_ID", "t-9")
		t.Setenv("CASHIER_ID", "c-42")
		t.Setenv("LOCAL_DB_DRIVER", "postgres")
		t.Setenv("LOCAL_DB_DSN", "host=localhost dbname=pos")
		t.Setenv("BACKEND_URL", "http://backend:9000/")
		t.Setenv("BACKEND_SECRET", "s3cret")
		t.Setenv("OUTBOX_MAX_ATTEMPTS", "7")
		t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
		t.Setenv("TAX_RATE", "0.11")

		cfg := LoadConfig()

		assert.NotNil(t, cfg)
		assert.Equal(t, "test", cfg.AppEnv)
		assert.Equal(t, "t-9", cfg.TerminalID)
		assert.Equal(t, "c-42", cfg.CashierID)
		assert.Equal(t, "postgres", cfg.LocalDBDriver)
		assert.Equal(t, "host=localhost dbname=pos", cfg.LocalDBDSN)
		assert.Equal(t, "http://backend:9000", cfg.BackendURL)
		assert.Equal(t, "s3cret", cfg.BackendSecret)
		assert.Equal(t, 7, cfg.OutboxMaxAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
		assert.Equal(t, "0.11", cfg.TaxRate.String())
		require.NoError(t, cfg.Validate())
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("LOCAL_DB_DRIVER", "")
		t.Setenv("OUTBOX_MAX_ATTEMPTS", "")

		cfg := LoadConfig()

		assert.Equal(t, 5, cfg.OutboxMaxAttempts)
		assert.Equal(t, 2*time.Second, cfg.OutboxBaseBackoff)
		assert.True(t, cfg.TaxRate.IsZero())
	})

	t.Run("Invalid tax rate falls back to zero", func(t *testing.T) {
		t.Setenv("TAX_RATE", "ten percent")

		cfg := LoadConfig()

		assert.True(t, cfg.TaxRate.IsZero())
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{
		LocalDBDriver:      "mysql",
		CashierID:          "",
		OutboxMaxAttempts:  0,
		OutboxPollInterval: time.Second,
	}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LOCAL_DB_DRIVER")
	assert.Contains(t, err.Error(), "LOCAL_DB_DSN is required")
	assert.Contains(t, err.Error(), "CASHIER_ID is required")
	assert.Contains(t, err.Error(), "OUTBOX_MAX_ATTEMPTS must be positive")
}
