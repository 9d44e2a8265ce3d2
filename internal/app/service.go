/**
 * @description
 * This file contains the core business logic for the wallet service. The `Service`
 * struct orchestrates every money movement, coordinating between the repository, the
 * ledger, the payment gateway and the event producer.
 *
 * Key features:
 * - Wallet lifecycle: get-or-create per owner, lock/unlock, soft deactivation.
 * - Money movement: deposits, card charges, withdrawals, settlements, transfers, refunds.
 * - Idempotent resolution of pending transactions from verify calls, webhooks and sweeps.
 *
 * @notes
 * - No gateway call is made inside WithTx. Gateway work happens before the unit of work
 *   that reserves funds commits, or after it, never while a wallet row is locked.
 * - Every operation takes an explicit `now`; the service never reads the wall clock.
 *
 * @dependencies
 * - internal/domain, internal/store: domain models and data access.
 * - pkg/paystackclient, pkg/rabbitmq: gateway and event publishing.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

// Options carries the service settings derived from configuration.
type Options struct {
	Currency                string
	MinimumBalance          decimal.Decimal
	MaximumDailyTransaction decimal.Decimal
	Location                *time.Location
	CallbackURL             string
	EventsExchange          string
	ReconcileAfter          time.Duration
	DepositExpiry           time.Duration
	SweepBatchSize          int
	BankListTTL             time.Duration
}

// OptionsFromConfig derives service options from the loaded configuration.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	minimum, err := cfg.MinimumBalance()
	if err != nil {
		return Options{}, err
	}
	maxDaily, err := cfg.MaximumDailyTransaction()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Currency:                cfg.WalletCurrency,
		MinimumBalance:          minimum,
		MaximumDailyTransaction: maxDaily,
		Location:                cfg.Location(),
		CallbackURL:             cfg.PaystackCallbackURL,
		EventsExchange:          cfg.EventsExchange,
		ReconcileAfter:          time.Duration(cfg.ReconcilePendingAfterMinutes) * time.Minute,
		DepositExpiry:           time.Duration(cfg.DepositExpiryHours) * time.Hour,
		SweepBatchSize:          cfg.SweepBatchSize,
		BankListTTL:             time.Duration(cfg.BankListCacheTTLHours) * time.Hour,
	}, nil
}

// Service provides the core business logic for wallets and transactions.
type Service struct {
	repo      store.Repository
	gateway   Gateway
	publisher rabbitmq.Publisher
	fees      *FeeCalculator
	ledger    *Ledger
	banks     BankCache
	opts      Options
	logger    *slog.Logger
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, gateway Gateway, publisher rabbitmq.Publisher, fees *FeeCalculator, banks BankCache, opts Options, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	if banks == nil {
		banks = NewMemoryBankCache()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	opts.Currency = strings.ToUpper(strings.TrimSpace(opts.Currency))
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	if opts.EventsExchange == "" {
		opts.EventsExchange = "wallet.events"
	}
	if opts.ReconcileAfter <= 0 {
		opts.ReconcileAfter = 30 * time.Minute
	}
	if opts.DepositExpiry <= 0 {
		opts.DepositExpiry = 24 * time.Hour
	}
	if opts.SweepBatchSize <= 0 {
		opts.SweepBatchSize = 100
	}
	if opts.BankListTTL <= 0 {
		opts.BankListTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		fees:      fees,
		ledger:    NewLedger(opts.MinimumBalance, opts.MaximumDailyTransaction, opts.Location, logger),
		banks:     banks,
		opts:      opts,
		logger:    logger.With("component", "wallet_service"),
	}
}

// Ledger exposes the ledger core, mainly for the settlement scheduler's eligibility math.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// Currency is the single currency wallets are opened in.
func (s *Service) Currency() string {
	return s.opts.Currency
}

// ParseAmount parses a wire amount in the service currency.
func (s *Service) ParseAmount(value string) (domain.Money, error) {
	m, err := domain.ParseMoney(value, s.opts.Currency)
	if err != nil {
		return domain.Money{}, err
	}
	return m, m.RequirePositive()
}

// --- wallets ---

// GetOrCreateWallet returns the owner's wallet, opening one on first access.
func (s *Service) GetOrCreateWallet(ctx context.Context, ownerID string, now time.Time) (*domain.Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidPayload)
	}
	return s.repo.GetOrCreateWallet(ctx, ownerID, s.opts.Currency, now)
}

// GetWallet loads a wallet by id.
func (s *Service) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindWalletByID(ctx, walletID)
}

// SetWalletLock locks or unlocks a wallet for debits.
func (s *Service) SetWalletLock(ctx context.Context, walletID uuid.UUID, locked bool, now time.Time) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		wallets, err := tx.LockWallets(ctx, walletID)
		if err != nil {
			return err
		}
		w := wallets[walletID]
		if w.IsLocked != locked {
			w.IsLocked = locked
			w.UpdatedAt = now
			if err := tx.SaveWallet(ctx, w); err != nil {
				return err
			}
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("wallet lock changed", "wallet_id", walletID, "locked", locked)
	return out, nil
}

// DeactivateWallet soft-deactivates an empty wallet and everything it owns.
func (s *Service) DeactivateWallet(ctx context.Context, walletID uuid.UUID, now time.Time) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		wallets, err := tx.LockWallets(ctx, walletID)
		if err != nil {
			return err
		}
		w := wallets[walletID]
		if !w.Balance.IsZero() {
			return fmt.Errorf("%w: balance is %s", domain.ErrWalletNotEmpty, w.Balance)
		}
		w.IsActive = false
		w.UpdatedAt = now
		out = w
		return tx.SaveWallet(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeactivateWalletInstruments(ctx, walletID, now); err != nil {
		return nil, fmt.Errorf("deactivate wallet instruments: %w", err)
	}
	s.logger.Info("wallet deactivated", "wallet_id", walletID)
	return out, nil
}

// ResetDormantDailyCounters zeroes daily counters of wallets not touched today.
func (s *Service) ResetDormantDailyCounters(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.ResetDailyCounters(ctx, s.ledger.today(now), now)
}

// --- transactions ---

// ListTransactions returns a wallet's history, newest first.
func (s *Service) ListTransactions(ctx context.Context, walletID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	return s.repo.ListTransactionsByWallet(ctx, walletID, opts)
}

// GetTransaction returns a transaction by reference, scoped to walletID.
func (s *Service) GetTransaction(ctx context.Context, walletID uuid.UUID, reference string) (*domain.Transaction, error) {
	txn, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.WalletID != walletID {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) newTransaction(walletID uuid.UUID, t domain.TransactionType, quote FeeQuote, now time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Type:      t,
		Status:    domain.TransactionStatusPending,
		Amount:    quote.Amount,
		Fee:       quote.Fee,
		Reference: domain.NewReference(t.ReferencePrefix(), now),
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) requireCurrency(amount domain.Money) error {
	if err := amount.RequirePositive(); err != nil {
		return err
	}
	if amount.Currency != s.opts.Currency {
		return fmt.Errorf("%w: wallets hold %s, amount is %s", domain.ErrCurrencyMismatch, s.opts.Currency, amount.Currency)
	}
	return nil
}

func markTerminal(txn *domain.Transaction, status domain.TransactionStatus, now time.Time) {
	txn.Status = status
	txn.UpdatedAt = now
	completed := now
	txn.CompletedAt = &completed
}

// --- events ---

func (s *Service) publish(ctx context.Context, routingKey string, body any) {
	if err := s.publisher.Publish(ctx, s.opts.EventsExchange, routingKey, body); err != nil {
		s.logger.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}

func (s *Service) publishResolved(ctx context.Context, txn *domain.Transaction, now time.Time) {
	key := domain.RoutingKeyTransactionSucceeded
	if txn.Status == domain.TransactionStatusFailed {
		key = domain.RoutingKeyTransactionFailed
	}
	s.publish(ctx, key, domain.TransactionEvent{
		TransactionID: txn.ID,
		WalletID:      txn.WalletID,
		Reference:     txn.Reference,
		Type:          txn.Type,
		Status:        txn.Status,
		Amount:        txn.Amount,
		Fee:           txn.Fee,
		OccurredAt:    now,
	})
}

// creditNotice is a credit applied inside a unit of work, announced after commit.
type creditNotice struct {
	walletID      uuid.UUID
	transactionID uuid.UUID
	amount        domain.Money
	balance       domain.Money
}

func (s *Service) publishCredits(ctx context.Context, credits []creditNotice, now time.Time) {
	for _, c := range credits {
		s.publish(ctx, domain.RoutingKeyBalanceCredited, domain.BalanceCreditedEvent{
			WalletID:      c.walletID,
			TransactionID: c.transactionID,
			Amount:        c.amount,
			Balance:       c.balance,
			OccurredAt:    now,
		})
	}
}
