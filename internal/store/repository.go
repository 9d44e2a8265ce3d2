/**
 * @description
 * This file defines the persistence contract for the wallet service. The Repository
 * covers reads and single-row writes; every balance mutation runs inside WithTx through
 * the Tx unit of work so the balance check, the balance write and the transaction record
 * commit or roll back together.
 *
 * @notes
 * - Lock order inside a Tx: transactions first (LockTransaction*), then wallets via
 *   LockWallets, which always locks in ascending wallet id order.
 * - Callbacks passed to WithTx must only use the Tx they are given.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// Repository defines the interface for database operations.
type Repository interface {
	// WithTx runs fn in a single database transaction. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Wallets
	GetOrCreateWallet(ctx context.Context, ownerID string, currency string, now time.Time) (*domain.Wallet, error)
	FindWalletByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error)
	// FindWalletByDedicatedAccount returns the wallet a virtual account number was provisioned for.
	FindWalletByDedicatedAccount(ctx context.Context, accountNumber string) (*domain.Wallet, error)
	ResetDailyCounters(ctx context.Context, today time.Time, now time.Time) (int64, error)
	// DeactivateWalletInstruments soft-deactivates the wallet's bank accounts, cards and schedules.
	DeactivateWalletInstruments(ctx context.Context, walletID uuid.UUID, now time.Time) error

	// Transactions
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindTransactionByExternalReference(ctx context.Context, externalReference string) (*domain.Transaction, error)
	ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	ListStalePendingTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error)
	SetTransactionExternalReference(ctx context.Context, id uuid.UUID, externalReference string, now time.Time) error

	// Bank accounts
	CreateBankAccount(ctx context.Context, account *domain.BankAccount) error
	FindBankAccountByID(ctx context.Context, id uuid.UUID) (*domain.BankAccount, error)
	ListBankAccountsByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.BankAccount, error)
	SetDefaultBankAccount(ctx context.Context, walletID uuid.UUID, accountID uuid.UUID, now time.Time) error

	// Cards
	UpsertCard(ctx context.Context, card *domain.Card) error
	FindCardByID(ctx context.Context, id uuid.UUID) (*domain.Card, error)
	ListCardsByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.Card, error)

	// Settlement schedules
	CreateSettlementSchedule(ctx context.Context, schedule *domain.SettlementSchedule) error
	UpdateSettlementSchedule(ctx context.Context, schedule *domain.SettlementSchedule) error
	FindSettlementScheduleByID(ctx context.Context, id uuid.UUID) (*domain.SettlementSchedule, error)
	ListSettlementSchedulesByWallet(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error)
	ListDueSettlementSchedules(ctx context.Context, now time.Time, limit int) ([]domain.SettlementSchedule, error)
	ListActiveThresholdSchedules(ctx context.Context, walletID uuid.UUID) ([]domain.SettlementSchedule, error)
	// ListReachedThresholdSchedules returns active threshold schedules whose active, unlocked
	// wallet holds at least amount_threshold.
	ListReachedThresholdSchedules(ctx context.Context, limit int) ([]domain.SettlementSchedule, error)
	RecordSettlementRun(ctx context.Context, id uuid.UUID, lastRun *time.Time, nextRun *time.Time, now time.Time) error

	// Webhook events
	CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	UpdateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	FindWebhookEventByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	FindWebhookEvent(ctx context.Context, reference string, eventType string) (*domain.WebhookEvent, error)
	ListRetryableWebhookEvents(ctx context.Context, receivedBefore time.Time, now time.Time, maxAttempts int, limit int) ([]domain.WebhookEvent, error)
}

// Tx is the unit of work handed to WithTx callbacks.
type Tx interface {
	// LockWallets locks the wallets FOR UPDATE in ascending id order and returns them keyed by id.
	LockWallets(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error)
	SaveWallet(ctx context.Context, wallet *domain.Wallet) error

	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	LockTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	// UpdateTransactionStatus writes a status transition. It returns domain.ErrAlreadyTerminal
	// when the stored row no longer allows the transition.
	UpdateTransactionStatus(ctx context.Context, txn *domain.Transaction, from domain.TransactionStatus) error
	// SumRefunds totals successful refunds linked to the original transaction.
	SumRefunds(ctx context.Context, originalID uuid.UUID) (decimal.Decimal, error)
}
