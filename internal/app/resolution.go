package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// Completion is what the gateway reported about a successful transaction.
type Completion struct {
	// Amount, when set, must match the transaction amount or the deposit is failed.
	Amount            *domain.Money
	Channel           string
	ExternalReference string
	Authorization     *paystackclient.Authorization
}

// Resolution is the outcome of a terminal transition attempt. Applied is false when the
// transaction was already terminal and nothing changed.
type Resolution struct {
	Transaction *domain.Transaction
	Applied     bool
}

type resolveFunc func(ctx context.Context, tx store.Tx, txn *domain.Transaction, c Completion, reason string, now time.Time) ([]creditNotice, error)

// resolver holds the terminal transitions of one transaction type.
type resolver struct {
	complete resolveFunc
	fail     resolveFunc
}

// resolverFor is the dispatch table for terminal transitions. Every domain.TransactionType
// must have an entry.
func (s *Service) resolverFor(t domain.TransactionType) (resolver, error) {
	switch t {
	case domain.TransactionTypeDeposit:
		return resolver{complete: s.completeDeposit, fail: s.failUnfunded}, nil
	case domain.TransactionTypeWithdrawal, domain.TransactionTypeSettlement:
		return resolver{complete: s.completePayout, fail: s.failPayout}, nil
	case domain.TransactionTypeTransfer, domain.TransactionTypeRefund:
		return resolver{complete: resolvesSynchronously, fail: resolvesSynchronously}, nil
	default:
		return resolver{}, fmt.Errorf("no resolver for transaction type %q", t)
	}
}

// CompleteTransaction moves a pending transaction to success and applies its balance
// effect once. Resolving an already-terminal transaction is a logged no-op.
func (s *Service) CompleteTransaction(ctx context.Context, reference string, c Completion, now time.Time) (Resolution, error) {
	return s.resolve(ctx, reference, now, func(r resolver) resolveFunc { return r.complete }, c, "")
}

// FailTransaction moves a pending transaction to failed, compensating any reserved funds.
func (s *Service) FailTransaction(ctx context.Context, reference string, reason string, now time.Time) (Resolution, error) {
	if reason == "" {
		reason = "failed at gateway"
	}
	return s.resolve(ctx, reference, now, func(r resolver) resolveFunc { return r.fail }, Completion{}, reason)
}

func (s *Service) resolve(ctx context.Context, reference string, now time.Time, pick func(resolver) resolveFunc, c Completion, reason string) (Resolution, error) {
	var (
		res     Resolution
		credits []creditNotice
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		res, credits = Resolution{}, nil
		txn, err := tx.LockTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		res.Transaction = txn
		if txn.IsTerminal() {
			return nil
		}
		r, err := s.resolverFor(txn.Type)
		if err != nil {
			return err
		}
		if c.ExternalReference != "" && txn.ExternalReference == nil {
			ext := c.ExternalReference
			txn.ExternalReference = &ext
		}
		if c.Channel != "" {
			txn.Channel = c.Channel
		}
		credits, err = pick(r)(ctx, tx, txn, c, reason, now)
		if err != nil {
			return err
		}
		res.Applied = true
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		// Lost a race with another resolver; report the stored state.
		txn, findErr := s.repo.FindTransactionByReference(ctx, reference)
		if findErr != nil {
			return Resolution{}, findErr
		}
		res, err = Resolution{Transaction: txn}, nil
	}
	if err != nil {
		return Resolution{}, err
	}

	if !res.Applied {
		s.logger.Info("transaction already terminal; resolution ignored",
			"reference", reference, "status", res.Transaction.Status, "error", domain.ErrAlreadyTerminal)
		return res, nil
	}

	txn := res.Transaction
	metrics.TransactionsResolved.WithLabelValues(string(txn.Type), string(txn.Status)).Inc()
	s.logger.Info("transaction resolved", "reference", txn.Reference, "type", txn.Type, "status", txn.Status)
	s.publishResolved(ctx, txn, now)
	s.publishCredits(ctx, credits, now)
	if txn.Type == domain.TransactionTypeDeposit && txn.Status == domain.TransactionStatusSuccess && c.Authorization != nil {
		s.saveCard(ctx, txn.WalletID, c.Authorization, now)
	}
	return res, nil
}

// transition writes txn's new status guarded by its previous one.
func transition(ctx context.Context, tx store.Tx, txn *domain.Transaction, next domain.TransactionStatus, reason string, now time.Time) error {
	if !txn.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", domain.ErrAlreadyTerminal, txn.Reference, txn.Status, next)
	}
	from := txn.Status
	markTerminal(txn, next, now)
	if reason != "" {
		r := reason
		txn.FailureReason = &r
	}
	return tx.UpdateTransactionStatus(ctx, txn, from)
}

func (s *Service) completeDeposit(ctx context.Context, tx store.Tx, txn *domain.Transaction, c Completion, _ string, now time.Time) ([]creditNotice, error) {
	if c.Amount != nil && (c.Amount.Currency != txn.Amount.Currency || !c.Amount.Amount.Equal(txn.Amount.Amount)) {
		reason := fmt.Sprintf("amount mismatch: expected %s, gateway reported %s", txn.Amount, *c.Amount)
		s.logger.Warn("deposit amount mismatch; failing transaction", "reference", txn.Reference, "reason", reason)
		return nil, transition(ctx, tx, txn, domain.TransactionStatusFailed, reason, now)
	}
	quote, err := QuoteOf(txn)
	if err != nil {
		return nil, err
	}
	wallets, err := tx.LockWallets(ctx, txn.WalletID)
	if err != nil {
		return nil, err
	}
	wallet := wallets[txn.WalletID]
	if err := transition(ctx, tx, txn, domain.TransactionStatusSuccess, "", now); err != nil {
		return nil, err
	}
	if err := s.ledger.Credit(ctx, tx, wallet, txn, quote.Net, now); err != nil {
		return nil, err
	}
	return []creditNotice{{walletID: wallet.ID, transactionID: txn.ID, amount: quote.Net, balance: wallet.Balance}}, nil
}

func (s *Service) failUnfunded(ctx context.Context, tx store.Tx, txn *domain.Transaction, _ Completion, reason string, now time.Time) ([]creditNotice, error) {
	return nil, transition(ctx, tx, txn, domain.TransactionStatusFailed, reason, now)
}

// completePayout confirms a withdrawal or settlement whose funds left at creation.
func (s *Service) completePayout(ctx context.Context, tx store.Tx, txn *domain.Transaction, _ Completion, _ string, now time.Time) ([]creditNotice, error) {
	return nil, transition(ctx, tx, txn, domain.TransactionStatusSuccess, "", now)
}

// failPayout fails a withdrawal or settlement and credits back everything debited at creation.
func (s *Service) failPayout(ctx context.Context, tx store.Tx, txn *domain.Transaction, _ Completion, reason string, now time.Time) ([]creditNotice, error) {
	quote, err := QuoteOf(txn)
	if err != nil {
		return nil, err
	}
	wallets, err := tx.LockWallets(ctx, txn.WalletID)
	if err != nil {
		return nil, err
	}
	wallet := wallets[txn.WalletID]
	if err := transition(ctx, tx, txn, domain.TransactionStatusFailed, reason, now); err != nil {
		return nil, err
	}
	if err := s.ledger.Credit(ctx, tx, wallet, txn, quote.Gross, now); err != nil {
		return nil, err
	}
	if txn.Type == domain.TransactionTypeWithdrawal {
		if err := s.ledger.ReleaseDailyLimit(ctx, tx, wallet, txn.Amount, txn.CreatedAt, now); err != nil {
			return nil, err
		}
	}
	s.logger.Info("reserved funds returned", "reference", txn.Reference, "wallet_id", wallet.ID, "amount", quote.Gross.String())
	// Compensation is not announced as a balance credit: it would re-trigger threshold settlements.
	return nil, nil
}

func resolvesSynchronously(_ context.Context, _ store.Tx, txn *domain.Transaction, _ Completion, _ string, _ time.Time) ([]creditNotice, error) {
	return nil, fmt.Errorf("%s transactions resolve when created; %s cannot be resolved asynchronously", txn.Type, txn.Reference)
}
