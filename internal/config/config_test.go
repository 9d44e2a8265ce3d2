package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"WALLET_CURRENCY", "WALLET_MAXIMUM_DAILY_TRANSACTION", "PAYSTACK_API_URL", "WEBHOOK_MAX_ATTEMPTS", "DEPOSIT_EXPIRY_HOURS", "PORT", "SERVER_PORT"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WalletCurrency != "NGN" {
		t.Fatalf("expected default currency NGN, got %q", cfg.WalletCurrency)
	}
	if cfg.PaystackAPIURL != "https://api.paystack.co" {
		t.Fatalf("unexpected default paystack url %q", cfg.PaystackAPIURL)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.WebhookMaxAttempts != 5 {
		t.Fatalf("expected default webhook attempts 5, got %d", cfg.WebhookMaxAttempts)
	}
	if cfg.DepositExpiryHours != 24 {
		t.Fatalf("expected default deposit expiry 24h, got %d", cfg.DepositExpiryHours)
	}
	limit, err := cfg.MaximumDailyTransaction()
	if err != nil {
		t.Fatalf("MaximumDailyTransaction returned error: %v", err)
	}
	if limit.String() != "1000000" {
		t.Fatalf("expected default daily limit 1000000, got %s", limit)
	}
	if !cfg.FeesEnabled {
		t.Fatal("expected fees to be enabled by default")
	}
}

func TestLoadConfig_WebhookSecretFallsBackToSecretKey(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PAYSTACK_WEBHOOK_SECRET")
	setEnvWithCleanup(t, "PAYSTACK_SECRET_KEY", "sk_test_123")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaystackWebhookSecret != "sk_test_123" {
		t.Fatalf("expected webhook secret to fall back to secret key, got %q", cfg.PaystackWebhookSecret)
	}
}

func TestLoadConfig_PortAliasOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ClampsFeePercentAndCounts(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEPOSIT_FEE_PERCENT", "150")
	setEnvWithCleanup(t, "TRANSFER_FEE_PERCENT", "-2")
	setEnvWithCleanup(t, "SWEEP_BATCH_SIZE", "0")
	setEnvWithCleanup(t, "PAYSTACK_TIMEOUT_SECONDS", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DepositFeePercent != 100 {
		t.Fatalf("expected deposit fee percent capped at 100, got %f", cfg.DepositFeePercent)
	}
	if cfg.TransferFeePercent != 0 {
		t.Fatalf("expected negative transfer fee percent coerced to 0, got %f", cfg.TransferFeePercent)
	}
	if cfg.SweepBatchSize != 100 {
		t.Fatalf("expected default sweep batch size, got %d", cfg.SweepBatchSize)
	}
	if cfg.PaystackTimeout() != 30*time.Second {
		t.Fatalf("expected default gateway timeout, got %s", cfg.PaystackTimeout())
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "WALLET_CURRENCY")
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/.env", []byte("WALLET_CURRENCY=ghs\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.WalletCurrency != "GHS" {
		t.Fatalf("expected currency from .env normalized to GHS, got %q", cfg.WalletCurrency)
	}
}

func TestConfig_LocationFallsBackToUTC(t *testing.T) {
	cfg := Config{WalletTimezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", cfg.Location())
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
