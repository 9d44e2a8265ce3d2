package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

// RefundRequest returns money from a successful outbound transaction to its payer.
// A nil Amount refunds whatever has not been refunded yet.
type RefundRequest struct {
	TransactionID uuid.UUID
	Amount        *domain.Money
	Reason        string
}

func refundable(txn *domain.Transaction) bool {
	switch txn.Type {
	case domain.TransactionTypeWithdrawal, domain.TransactionTypeSettlement:
		return true
	case domain.TransactionTypeTransfer:
		return isOutgoingTransfer(txn)
	default:
		return false
	}
}

// Refund credits the payer of a successful withdrawal, settlement or outgoing transfer.
// Refunds accumulate up to the original amount; fees are kept. A transfer refund takes the
// money back from the recipient wallet. The original moves to reversed once fully refunded.
func (s *Service) Refund(ctx context.Context, req RefundRequest, now time.Time) (*domain.Transaction, error) {
	var (
		refund   *domain.Transaction
		original *domain.Transaction
		reversed bool
		credit   creditNotice
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		refund, reversed = nil, false
		var err error
		original, err = tx.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if original.Status != domain.TransactionStatusSuccess || !refundable(original) {
			return fmt.Errorf("%w: %s %s transaction %s", domain.ErrRefundNotAllowed, original.Status, original.Type, original.Reference)
		}

		refunded, err := tx.SumRefunds(ctx, original.ID)
		if err != nil {
			return fmt.Errorf("sum refunds: %w", err)
		}
		remaining := original.Amount.Amount.Sub(refunded)
		if !remaining.IsPositive() {
			return fmt.Errorf("%w: %s is already fully refunded", domain.ErrRefundNotAllowed, original.Reference)
		}
		amount := domain.Money{Amount: remaining, Currency: original.Amount.Currency}
		if req.Amount != nil {
			if err := s.requireCurrency(*req.Amount); err != nil {
				return err
			}
			if req.Amount.Amount.GreaterThan(remaining) {
				return fmt.Errorf("%w: requested %s, refundable %s", domain.ErrRefundNotAllowed, *req.Amount, amount)
			}
			amount = *req.Amount
		}

		quote, err := s.fees.Quote(domain.TransactionTypeRefund, amount)
		if err != nil {
			return err
		}
		refund = s.newTransaction(original.WalletID, domain.TransactionTypeRefund, quote, now)
		refund.RelatedTransactionID = &original.ID
		refund.Description = strings.TrimSpace(req.Reason)
		refund.Metadata["original_reference"] = original.Reference
		markTerminal(refund, domain.TransactionStatusSuccess, now)

		ids := []uuid.UUID{original.WalletID}
		if original.Type == domain.TransactionTypeTransfer {
			refund.RecipientWalletID = original.RecipientWalletID
			ids = append(ids, *original.RecipientWalletID)
		}
		wallets, err := tx.LockWallets(ctx, ids...)
		if err != nil {
			return err
		}
		payer := wallets[original.WalletID]
		if original.Type == domain.TransactionTypeTransfer {
			if err := s.ledger.Debit(ctx, tx, wallets[*original.RecipientWalletID], refund, amount, now); err != nil {
				return err
			}
		}
		if err := s.ledger.Credit(ctx, tx, payer, refund, amount, now); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, refund); err != nil {
			return err
		}
		credit = creditNotice{walletID: payer.ID, transactionID: refund.ID, amount: amount, balance: payer.Balance}

		if refunded.Add(amount.Amount).Equal(original.Amount.Amount) {
			if err := transition(ctx, tx, original, domain.TransactionStatusReversed, "", now); err != nil {
				return err
			}
			reversed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransactionsResolved.WithLabelValues(string(refund.Type), string(refund.Status)).Inc()
	s.logger.Info("refund applied", "reference", refund.Reference, "original_reference", original.Reference,
		"amount", refund.Amount.String(), "original_reversed", reversed)
	s.publishResolved(ctx, refund, now)
	s.publishCredits(ctx, []creditNotice{credit}, now)
	if reversed {
		metrics.TransactionsResolved.WithLabelValues(string(original.Type), string(original.Status)).Inc()
	}
	return refund, nil
}

// ReverseTransfer applies a gateway reversal of a withdrawal or settlement: a pending one
// fails with compensation, a successful one is refunded in full.
func (s *Service) ReverseTransfer(ctx context.Context, reference string, reason string, now time.Time) (Resolution, error) {
	if reason == "" {
		reason = "transfer reversed"
	}
	txn, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return Resolution{}, err
	}
	if txn.Status == domain.TransactionStatusPending {
		res, err := s.FailTransaction(ctx, reference, reason, now)
		if err != nil || res.Applied || res.Transaction.Status != domain.TransactionStatusSuccess {
			return res, err
		}
		// Completed between the read and the lock; reverse the success instead.
		txn = res.Transaction
	}
	if txn.Status != domain.TransactionStatusSuccess {
		s.logger.Info("reversal ignored", "reference", reference, "status", txn.Status)
		return Resolution{Transaction: txn}, nil
	}

	if _, err := s.Refund(ctx, RefundRequest{TransactionID: txn.ID, Reason: reason}, now); err != nil {
		if errors.Is(err, domain.ErrRefundNotAllowed) {
			current, findErr := s.repo.FindTransactionByID(ctx, txn.ID)
			if findErr != nil {
				return Resolution{}, findErr
			}
			s.logger.Info("reversal ignored", "reference", reference, "status", current.Status, "error", err)
			return Resolution{Transaction: current}, nil
		}
		return Resolution{}, err
	}
	current, err := s.repo.FindTransactionByID(ctx, txn.ID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Transaction: current, Applied: true}, nil
}
