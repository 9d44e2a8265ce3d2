package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations returns the schema statements in apply order. Each entry is one statement and
// every statement is idempotent.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			id                       UUID PRIMARY KEY,
			owner_id                 TEXT NOT NULL UNIQUE,
			balance                  NUMERIC(19,2) NOT NULL DEFAULT 0,
			currency                 CHAR(3) NOT NULL,
			is_active                BOOLEAN NOT NULL DEFAULT TRUE,
			is_locked                BOOLEAN NOT NULL DEFAULT FALSE,
			daily_total              NUMERIC(19,2) NOT NULL DEFAULT 0,
			daily_count              INTEGER NOT NULL DEFAULT 0,
			daily_reset_date         DATE NOT NULL,
			paystack_customer_code   TEXT,
			dedicated_account_number TEXT,
			dedicated_account_bank   TEXT,
			created_at               TIMESTAMPTZ NOT NULL,
			updated_at               TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_dedicated_account ON wallets(dedicated_account_number) WHERE dedicated_account_number IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS bank_accounts (
			id             UUID PRIMARY KEY,
			wallet_id      UUID NOT NULL REFERENCES wallets(id),
			bank_code      TEXT NOT NULL,
			bank_name      TEXT NOT NULL DEFAULT '',
			account_number TEXT NOT NULL,
			account_name   TEXT NOT NULL DEFAULT '',
			recipient_code TEXT NOT NULL DEFAULT '',
			is_verified    BOOLEAN NOT NULL DEFAULT FALSE,
			is_default     BOOLEAN NOT NULL DEFAULT FALSE,
			is_active      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			UNIQUE (wallet_id, bank_code, account_number)
		)`,

		`CREATE TABLE IF NOT EXISTS cards (
			id                 UUID PRIMARY KEY,
			wallet_id          UUID NOT NULL REFERENCES wallets(id),
			last4              TEXT NOT NULL,
			bin                TEXT NOT NULL DEFAULT '',
			brand              TEXT NOT NULL DEFAULT '',
			exp_month          INTEGER NOT NULL,
			exp_year           INTEGER NOT NULL,
			bank               TEXT NOT NULL DEFAULT '',
			authorization_code TEXT NOT NULL,
			signature          TEXT NOT NULL DEFAULT '',
			reusable           BOOLEAN NOT NULL DEFAULT FALSE,
			is_default         BOOLEAN NOT NULL DEFAULT FALSE,
			is_active          BOOLEAN NOT NULL DEFAULT TRUE,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cards_wallet_signature ON cards(wallet_id, signature) WHERE signature <> ''`,

		`CREATE TABLE IF NOT EXISTS settlement_schedules (
			id               UUID PRIMARY KEY,
			wallet_id        UUID NOT NULL REFERENCES wallets(id),
			bank_account_id  UUID NOT NULL REFERENCES bank_accounts(id),
			schedule_type    TEXT NOT NULL CHECK (schedule_type IN ('daily', 'weekly', 'monthly', 'threshold', 'manual')),
			day_of_week      INTEGER CHECK (day_of_week BETWEEN 0 AND 6),
			day_of_month     INTEGER CHECK (day_of_month BETWEEN 1 AND 31),
			time_of_day      TEXT NOT NULL DEFAULT '',
			currency         CHAR(3) NOT NULL,
			minimum_amount   NUMERIC(19,2) NOT NULL DEFAULT 0,
			maximum_amount   NUMERIC(19,2),
			amount_threshold NUMERIC(19,2),
			last_run         TIMESTAMPTZ,
			next_run         TIMESTAMPTZ,
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_schedules_due ON settlement_schedules(next_run) WHERE is_active`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id                     UUID PRIMARY KEY,
			wallet_id              UUID NOT NULL REFERENCES wallets(id),
			type                   TEXT NOT NULL CHECK (type IN ('deposit', 'withdrawal', 'transfer', 'refund', 'settlement')),
			status                 TEXT NOT NULL CHECK (status IN ('pending', 'success', 'failed', 'reversed')),
			amount                 NUMERIC(19,2) NOT NULL CHECK (amount > 0),
			fee                    NUMERIC(19,2) NOT NULL DEFAULT 0,
			currency               CHAR(3) NOT NULL,
			reference              TEXT NOT NULL UNIQUE,
			external_reference     TEXT,
			recipient_wallet_id    UUID REFERENCES wallets(id),
			bank_account_id        UUID REFERENCES bank_accounts(id),
			card_id                UUID REFERENCES cards(id),
			related_transaction_id UUID REFERENCES transactions(id),
			schedule_id            UUID REFERENCES settlement_schedules(id),
			channel                TEXT NOT NULL DEFAULT '',
			description            TEXT NOT NULL DEFAULT '',
			metadata               JSONB NOT NULL DEFAULT '{}'::jsonb,
			failure_reason         TEXT,
			created_at             TIMESTAMPTZ NOT NULL,
			updated_at             TIMESTAMPTZ NOT NULL,
			completed_at           TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_wallet_created ON transactions(wallet_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions(created_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_external_reference ON transactions(external_reference)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_related ON transactions(related_transaction_id) WHERE related_transaction_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS webhook_events (
			id              UUID PRIMARY KEY,
			event_type      TEXT NOT NULL,
			reference       TEXT NOT NULL,
			payload         JSONB NOT NULL,
			signature_valid BOOLEAN NOT NULL,
			status          TEXT NOT NULL CHECK (status IN ('received', 'processed', 'ignored', 'failed', 'manual_review')),
			attempts        INTEGER NOT NULL DEFAULT 0,
			failure_reason  TEXT,
			transaction_id  UUID REFERENCES transactions(id),
			next_attempt_at TIMESTAMPTZ,
			received_at     TIMESTAMPTZ NOT NULL,
			processed_at    TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		// Only authenticated deliveries participate in deduplication.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_dedupe ON webhook_events(reference, event_type) WHERE signature_valid`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_retry ON webhook_events(received_at) WHERE status IN ('received', 'failed')`,
	}
}

// Migrate applies every schema statement.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range Migrations() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
