/**
 * @description
 * This package handles configuration management for the wallet service binaries. It uses
 * Viper to read configuration from environment variables and an optional .env file,
 * then normalizes the values the ledger, gateway and schedulers depend on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for walletd, the scheduler and walletctl.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
	ThresholdQueue string `mapstructure:"THRESHOLD_QUEUE"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`

	PaystackAPIURL         string `mapstructure:"PAYSTACK_API_URL"`
	PaystackSecretKey      string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookSecret  string `mapstructure:"PAYSTACK_WEBHOOK_SECRET"`
	PaystackCallbackURL    string `mapstructure:"PAYSTACK_CALLBACK_URL"`
	PaystackTimeoutSeconds int    `mapstructure:"PAYSTACK_TIMEOUT_SECONDS"`

	WalletCurrency                string `mapstructure:"WALLET_CURRENCY"`
	WalletMinimumBalance          string `mapstructure:"WALLET_MINIMUM_BALANCE"`
	WalletMaximumDailyTransaction string `mapstructure:"WALLET_MAXIMUM_DAILY_TRANSACTION"`
	WalletTimezone                string `mapstructure:"WALLET_TIMEZONE"`

	FeesEnabled               bool    `mapstructure:"FEES_ENABLED"`
	DepositFeePercent         float64 `mapstructure:"DEPOSIT_FEE_PERCENT"`
	DepositFeeFlat            string  `mapstructure:"DEPOSIT_FEE_FLAT"`
	DepositFeeCap             string  `mapstructure:"DEPOSIT_FEE_CAP"`
	DepositFeeWaiverThreshold string  `mapstructure:"DEPOSIT_FEE_WAIVER_THRESHOLD"`
	TransferFeePercent        float64 `mapstructure:"TRANSFER_FEE_PERCENT"`
	TransferFeeFlat           string  `mapstructure:"TRANSFER_FEE_FLAT"`
	TransferFeeCap            string  `mapstructure:"TRANSFER_FEE_CAP"`
	BankTransferFeeTiers      string  `mapstructure:"BANK_TRANSFER_FEE_TIERS"`

	WebhookMaxAttempts            int `mapstructure:"WEBHOOK_MAX_ATTEMPTS"`
	WebhookRetryDelaySeconds      int `mapstructure:"WEBHOOK_RETRY_DELAY_SECONDS"`
	WebhookRetryMaxBackoffSeconds int `mapstructure:"WEBHOOK_RETRY_MAX_BACKOFF_SECONDS"`
	ReconcilePendingAfterMinutes  int `mapstructure:"RECONCILE_PENDING_AFTER_MINUTES"`
	DepositExpiryHours            int `mapstructure:"DEPOSIT_EXPIRY_HOURS"`
	SweepBatchSize                int `mapstructure:"SWEEP_BATCH_SIZE"`
	SettlementLockTTLSeconds      int `mapstructure:"SETTLEMENT_LOCK_TTL_SECONDS"`
	BankListCacheTTLHours         int `mapstructure:"BANK_LIST_CACHE_TTL_HOURS"`

	SettlementJobSchedule   string `mapstructure:"SETTLEMENT_JOB_SCHEDULE"`
	WebhookRetryJobSchedule string `mapstructure:"WEBHOOK_RETRY_JOB_SCHEDULE"`
	ReconcileJobSchedule    string `mapstructure:"RECONCILE_JOB_SCHEDULE"`
	DailyResetJobSchedule   string `mapstructure:"DAILY_RESET_JOB_SCHEDULE"`
}

var keys = []string{
	"SERVER_PORT", "DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "EVENTS_EXCHANGE", "THRESHOLD_QUEUE",
	"JWT_SECRET", "INTERNAL_API_KEY", "LOG_LEVEL",
	"PAYSTACK_API_URL", "PAYSTACK_SECRET_KEY", "PAYSTACK_WEBHOOK_SECRET", "PAYSTACK_CALLBACK_URL",
	"PAYSTACK_TIMEOUT_SECONDS",
	"WALLET_CURRENCY", "WALLET_MINIMUM_BALANCE", "WALLET_MAXIMUM_DAILY_TRANSACTION", "WALLET_TIMEZONE",
	"FEES_ENABLED", "DEPOSIT_FEE_PERCENT", "DEPOSIT_FEE_FLAT", "DEPOSIT_FEE_CAP", "DEPOSIT_FEE_WAIVER_THRESHOLD",
	"TRANSFER_FEE_PERCENT", "TRANSFER_FEE_FLAT", "TRANSFER_FEE_CAP", "BANK_TRANSFER_FEE_TIERS",
	"WEBHOOK_MAX_ATTEMPTS", "WEBHOOK_RETRY_DELAY_SECONDS", "WEBHOOK_RETRY_MAX_BACKOFF_SECONDS",
	"RECONCILE_PENDING_AFTER_MINUTES", "DEPOSIT_EXPIRY_HOURS", "SWEEP_BATCH_SIZE", "SETTLEMENT_LOCK_TTL_SECONDS",
	"BANK_LIST_CACHE_TTL_HOURS",
	"SETTLEMENT_JOB_SCHEDULE", "WEBHOOK_RETRY_JOB_SCHEDULE", "RECONCILE_JOB_SCHEDULE", "DAILY_RESET_JOB_SCHEDULE",
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENTS_EXCHANGE", "wallet.events")
	viper.SetDefault("THRESHOLD_QUEUE", "wallet.settlement.threshold")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PAYSTACK_API_URL", "https://api.paystack.co")
	viper.SetDefault("PAYSTACK_TIMEOUT_SECONDS", 30)
	viper.SetDefault("WALLET_CURRENCY", "NGN")
	viper.SetDefault("WALLET_MINIMUM_BALANCE", "0")
	viper.SetDefault("WALLET_MAXIMUM_DAILY_TRANSACTION", "1000000")
	viper.SetDefault("WALLET_TIMEZONE", "Africa/Lagos")
	viper.SetDefault("FEES_ENABLED", true)
	viper.SetDefault("DEPOSIT_FEE_PERCENT", 1.5)
	viper.SetDefault("DEPOSIT_FEE_FLAT", "100")
	viper.SetDefault("DEPOSIT_FEE_CAP", "2000")
	viper.SetDefault("DEPOSIT_FEE_WAIVER_THRESHOLD", "2500")
	viper.SetDefault("TRANSFER_FEE_PERCENT", 0.0)
	viper.SetDefault("TRANSFER_FEE_FLAT", "0")
	viper.SetDefault("TRANSFER_FEE_CAP", "0")
	viper.SetDefault("BANK_TRANSFER_FEE_TIERS", "5000:10,50000:25,*:50")
	viper.SetDefault("WEBHOOK_MAX_ATTEMPTS", 5)
	viper.SetDefault("WEBHOOK_RETRY_DELAY_SECONDS", 60)
	viper.SetDefault("WEBHOOK_RETRY_MAX_BACKOFF_SECONDS", 300)
	viper.SetDefault("RECONCILE_PENDING_AFTER_MINUTES", 30)
	viper.SetDefault("DEPOSIT_EXPIRY_HOURS", 24)
	viper.SetDefault("SWEEP_BATCH_SIZE", 100)
	viper.SetDefault("SETTLEMENT_LOCK_TTL_SECONDS", 300)
	viper.SetDefault("BANK_LIST_CACHE_TTL_HOURS", 24)
	viper.SetDefault("SETTLEMENT_JOB_SCHEDULE", "@every 5m")
	viper.SetDefault("WEBHOOK_RETRY_JOB_SCHEDULE", "@every 1m")
	viper.SetDefault("RECONCILE_JOB_SCHEDULE", "@every 10m")
	viper.SetDefault("DAILY_RESET_JOB_SCHEDULE", "5 0 * * *") // 00:05 every day.

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.PaystackAPIURL = strings.TrimRight(strings.TrimSpace(config.PaystackAPIURL), "/")
	if strings.TrimSpace(config.PaystackWebhookSecret) == "" {
		config.PaystackWebhookSecret = config.PaystackSecretKey
	}
	config.WalletCurrency = strings.ToUpper(strings.TrimSpace(config.WalletCurrency))
	if config.WalletCurrency == "" {
		config.WalletCurrency = "NGN"
	}

	config.DepositFeePercent = clampPercent("DEPOSIT_FEE_PERCENT", config.DepositFeePercent)
	config.TransferFeePercent = clampPercent("TRANSFER_FEE_PERCENT", config.TransferFeePercent)

	if config.PaystackTimeoutSeconds <= 0 {
		config.PaystackTimeoutSeconds = 30
	}
	if config.WebhookMaxAttempts <= 0 {
		config.WebhookMaxAttempts = 5
	}
	if config.WebhookRetryDelaySeconds < 0 {
		config.WebhookRetryDelaySeconds = 0
	}
	if config.WebhookRetryMaxBackoffSeconds <= 0 {
		config.WebhookRetryMaxBackoffSeconds = 300
	}
	if config.ReconcilePendingAfterMinutes <= 0 {
		config.ReconcilePendingAfterMinutes = 30
	}
	if config.DepositExpiryHours <= 0 {
		config.DepositExpiryHours = 24
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 100
	}
	if config.SettlementLockTTLSeconds <= 0 {
		config.SettlementLockTTLSeconds = 300
	}
	if config.BankListCacheTTLHours <= 0 {
		config.BankListCacheTTLHours = 24
	}

	return
}

func clampPercent(key string, value float64) float64 {
	if value < 0 {
		slog.Warn("negative fee percent configured; coercing to zero", "component", "config", "key", key, "value", value)
		return 0
	}
	if value > 100 {
		slog.Warn("fee percent too high; capping at 100", "component", "config", "key", key, "value", value)
		return 100
	}
	return value
}

// Location loads the configured wallet timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.WalletTimezone))
	if err != nil {
		slog.Warn("unknown wallet timezone; using UTC", "component", "config", "timezone", c.WalletTimezone, "error", err)
		return time.UTC
	}
	return loc
}

// MinimumBalance parses WALLET_MINIMUM_BALANCE.
func (c Config) MinimumBalance() (decimal.Decimal, error) {
	return ParseAmount("WALLET_MINIMUM_BALANCE", c.WalletMinimumBalance)
}

// MaximumDailyTransaction parses WALLET_MAXIMUM_DAILY_TRANSACTION. Zero disables the limit.
func (c Config) MaximumDailyTransaction() (decimal.Decimal, error) {
	d, err := ParseAmount("WALLET_MAXIMUM_DAILY_TRANSACTION", c.WalletMaximumDailyTransaction)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, nil
	}
	return d, nil
}

// PaystackTimeout returns the gateway HTTP timeout.
func (c Config) PaystackTimeout() time.Duration {
	return time.Duration(c.PaystackTimeoutSeconds) * time.Second
}

// ParseAmount parses a decimal setting. An empty value is zero.
func ParseAmount(key string, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
