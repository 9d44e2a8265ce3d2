/**
 * @description
 * The ledger core: the only code that changes a wallet balance or its daily counters.
 * Every method runs inside a store.Tx on wallets already locked through LockWallets, so
 * the check and the write happen under the same row lock as the transaction record.
 *
 * @notes
 * - Daily counters reset lazily: the first reservation on a new local date zeroes them.
 * - Credits are accepted on locked wallets; only debits are refused.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

// Ledger applies balance deltas under the wallet row lock.
type Ledger struct {
	minimumBalance decimal.Decimal
	maxDaily       decimal.Decimal
	loc            *time.Location
	logger         *slog.Logger
}

// NewLedger builds a ledger. A negative minimumBalance is an overdraft allowance; a zero
// maxDaily disables the daily limit.
func NewLedger(minimumBalance, maxDaily decimal.Decimal, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{minimumBalance: minimumBalance, maxDaily: maxDaily, loc: loc, logger: logger}
}

// MinimumBalance is the floor a debit may not cross.
func (l *Ledger) MinimumBalance() decimal.Decimal {
	return l.minimumBalance
}

// Location is the timezone that defines the ledger's current date.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

func (l *Ledger) checkDelta(wallet *domain.Wallet, txn *domain.Transaction, amount domain.Money) error {
	if txn == nil {
		return fmt.Errorf("ledger delta on wallet %s without a transaction", wallet.ID)
	}
	if txn.WalletID != wallet.ID && (txn.RecipientWalletID == nil || *txn.RecipientWalletID != wallet.ID) {
		return fmt.Errorf("transaction %s does not involve wallet %s", txn.Reference, wallet.ID)
	}
	if err := amount.RequirePositive(); err != nil {
		return err
	}
	if amount.Currency != wallet.Currency() {
		return fmt.Errorf("%w: wallet holds %s, amount is %s", domain.ErrCurrencyMismatch, wallet.Currency(), amount.Currency)
	}
	return nil
}

// Credit adds amount to the wallet on behalf of txn.
func (l *Ledger) Credit(ctx context.Context, tx store.Tx, wallet *domain.Wallet, txn *domain.Transaction, amount domain.Money, now time.Time) error {
	if err := l.checkDelta(wallet, txn, amount); err != nil {
		metrics.LedgerOperations.WithLabelValues("credit", "rejected").Inc()
		return err
	}
	balance, err := wallet.Balance.Add(amount)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("credit", "rejected").Inc()
		return err
	}
	wallet.Balance = balance
	wallet.UpdatedAt = now
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		metrics.LedgerOperations.WithLabelValues("credit", "error").Inc()
		return fmt.Errorf("save wallet: %w", err)
	}
	metrics.LedgerOperations.WithLabelValues("credit", "applied").Inc()
	l.logger.Debug("wallet credited", "component", "ledger", "wallet_id", wallet.ID, "reference", txn.Reference, "amount", amount.String())
	return nil
}

// Debit removes amount from the wallet on behalf of txn. It re-checks the locked and
// active flags and the minimum balance against the row it holds.
func (l *Ledger) Debit(ctx context.Context, tx store.Tx, wallet *domain.Wallet, txn *domain.Transaction, amount domain.Money, now time.Time) error {
	if err := l.checkDelta(wallet, txn, amount); err != nil {
		metrics.LedgerOperations.WithLabelValues("debit", "rejected").Inc()
		return err
	}
	if err := l.debitable(wallet); err != nil {
		metrics.LedgerOperations.WithLabelValues("debit", "rejected").Inc()
		return err
	}
	balance, err := wallet.Balance.Sub(amount)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("debit", "rejected").Inc()
		return err
	}
	if balance.Amount.LessThan(l.minimumBalance) {
		metrics.LedgerOperations.WithLabelValues("debit", "insufficient_funds").Inc()
		l.logger.Info("debit rejected", "component", "ledger", "op", "debit", "outcome", "rejected",
			"wallet_id", wallet.ID, "reference", txn.Reference, "amount", amount.String(), "balance", wallet.Balance.String())
		return fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientFunds, wallet.Balance, amount)
	}
	wallet.Balance = balance
	wallet.UpdatedAt = now
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		metrics.LedgerOperations.WithLabelValues("debit", "error").Inc()
		return fmt.Errorf("save wallet: %w", err)
	}
	metrics.LedgerOperations.WithLabelValues("debit", "applied").Inc()
	l.logger.Debug("wallet debited", "component", "ledger", "wallet_id", wallet.ID, "reference", txn.Reference, "amount", amount.String())
	return nil
}

func (l *Ledger) debitable(wallet *domain.Wallet) error {
	if !wallet.IsActive {
		return domain.ErrWalletInactive
	}
	if wallet.IsLocked {
		return domain.ErrWalletLocked
	}
	return nil
}

// Available is the amount that can leave the wallet without crossing the minimum balance.
func (l *Ledger) Available(wallet *domain.Wallet) domain.Money {
	available := wallet.Balance.Amount.Sub(l.minimumBalance)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return domain.Money{Amount: available, Currency: wallet.Currency()}
}

// today is the ledger's current local date.
func (l *Ledger) today(now time.Time) time.Time {
	return domain.DateOf(now.In(l.loc))
}

// refreshDaily zeroes stale counters. It reports whether anything changed.
func (l *Ledger) refreshDaily(wallet *domain.Wallet, now time.Time) bool {
	today := l.today(now)
	if domain.SameDate(wallet.DailyResetDate, today) {
		return false
	}
	wallet.DailyTotal = domain.Zero(wallet.Currency())
	wallet.DailyCount = 0
	wallet.DailyResetDate = today
	return true
}

// ReserveDailyLimit counts amount against today's limit, resetting stale counters first.
func (l *Ledger) ReserveDailyLimit(ctx context.Context, tx store.Tx, wallet *domain.Wallet, amount domain.Money, now time.Time) error {
	if err := amount.RequirePositive(); err != nil {
		return err
	}
	l.refreshDaily(wallet, now)
	total, err := wallet.DailyTotal.Add(amount)
	if err != nil {
		return err
	}
	if l.maxDaily.IsPositive() && total.Amount.GreaterThan(l.maxDaily) {
		metrics.LedgerOperations.WithLabelValues("reserve", "daily_limit").Inc()
		return fmt.Errorf("%w: %s used of %s today", domain.ErrDailyLimitExceeded, wallet.DailyTotal.Amount.StringFixed(domain.MoneyScale), l.maxDaily.StringFixed(domain.MoneyScale))
	}
	wallet.DailyTotal = total
	wallet.DailyCount++
	wallet.UpdatedAt = now
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	metrics.LedgerOperations.WithLabelValues("reserve", "applied").Inc()
	return nil
}

// ReleaseDailyLimit gives back a reservation made at reservedAt, if it still belongs to
// the current counting day.
func (l *Ledger) ReleaseDailyLimit(ctx context.Context, tx store.Tx, wallet *domain.Wallet, amount domain.Money, reservedAt time.Time, now time.Time) error {
	changed := l.refreshDaily(wallet, now)
	if domain.SameDate(l.today(reservedAt), wallet.DailyResetDate) {
		total := wallet.DailyTotal.Amount.Sub(amount.Amount)
		if total.IsNegative() {
			total = decimal.Zero
		}
		wallet.DailyTotal = domain.Money{Amount: total, Currency: wallet.Currency()}
		if wallet.DailyCount > 0 {
			wallet.DailyCount--
		}
		changed = true
	}
	if !changed {
		return nil
	}
	wallet.UpdatedAt = now
	if err := tx.SaveWallet(ctx, wallet); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	metrics.LedgerOperations.WithLabelValues("release", "applied").Inc()
	return nil
}
