package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// WithdrawalRequest pays part of a wallet balance out to one of its bank accounts.
type WithdrawalRequest struct {
	WalletID      uuid.UUID
	BankAccountID uuid.UUID
	Amount        domain.Money
	Reason        string
}

// SettlementRequest is a withdrawal made by the settlement scheduler or an operator.
type SettlementRequest struct {
	WalletID      uuid.UUID
	BankAccountID uuid.UUID
	Amount        domain.Money
	ScheduleID    *uuid.UUID
	Reason        string
}

type payoutRequest struct {
	txnType       domain.TransactionType
	walletID      uuid.UUID
	bankAccountID uuid.UUID
	amount        domain.Money
	scheduleID    *uuid.UUID
	reason        string
	reserveDaily  bool
}

// Withdraw debits amount plus the bank transfer fee, then initiates the gateway transfer.
// A gateway outage leaves the withdrawal pending; a rejection fails it and returns the funds.
func (s *Service) Withdraw(ctx context.Context, req WithdrawalRequest, now time.Time) (*domain.Transaction, error) {
	return s.payout(ctx, payoutRequest{
		txnType:       domain.TransactionTypeWithdrawal,
		walletID:      req.WalletID,
		bankAccountID: req.BankAccountID,
		amount:        req.Amount,
		reason:        req.Reason,
		reserveDaily:  true,
	}, now)
}

// CreateSettlement debits amount and pays amount minus the fee to the bank account.
// Settlements do not count against the daily limit.
func (s *Service) CreateSettlement(ctx context.Context, req SettlementRequest, now time.Time) (*domain.Transaction, error) {
	reason := req.Reason
	if reason == "" {
		reason = "Wallet settlement"
	}
	return s.payout(ctx, payoutRequest{
		txnType:       domain.TransactionTypeSettlement,
		walletID:      req.WalletID,
		bankAccountID: req.BankAccountID,
		amount:        req.Amount,
		scheduleID:    req.ScheduleID,
		reason:        reason,
	}, now)
}

func (s *Service) payout(ctx context.Context, req payoutRequest, now time.Time) (*domain.Transaction, error) {
	if err := s.requireCurrency(req.amount); err != nil {
		return nil, err
	}
	account, err := s.usableBankAccount(ctx, req.walletID, req.bankAccountID)
	if err != nil {
		return nil, err
	}
	quote, err := s.fees.Quote(req.txnType, req.amount)
	if err != nil {
		return nil, err
	}

	txn := s.newTransaction(req.walletID, req.txnType, quote, now)
	txn.BankAccountID = &account.ID
	txn.ScheduleID = req.scheduleID
	txn.Description = strings.TrimSpace(req.reason)
	txn.Channel = "bank_transfer"
	txn.Metadata["bank_code"] = account.BankCode
	txn.Metadata["account_number"] = account.AccountNumber
	txn.Metadata["recipient_code"] = account.RecipientCode

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		wallets, err := tx.LockWallets(ctx, req.walletID)
		if err != nil {
			return err
		}
		wallet := wallets[req.walletID]
		if req.reserveDaily {
			if err := s.ledger.ReserveDailyLimit(ctx, tx, wallet, req.amount, now); err != nil {
				return err
			}
		}
		if err := s.ledger.Debit(ctx, tx, wallet, txn, quote.Gross, now); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	transfer, err := s.gateway.InitiateTransfer(ctx, paystackclient.InitiateTransferRequest{
		Source:    "balance",
		Amount:    quote.Net.MinorUnits(),
		Recipient: account.RecipientCode,
		Reason:    txn.Description,
		Currency:  quote.Net.Currency,
		Reference: txn.Reference,
	})
	if err != nil {
		if errors.Is(err, paystackclient.ErrUnavailable) {
			s.logger.Warn("transfer outcome unknown; left pending for reconciliation",
				"reference", txn.Reference, "type", txn.Type, "error", err)
			return txn, nil
		}
		if _, failErr := s.FailTransaction(ctx, txn.Reference, "transfer rejected: "+err.Error(), now); failErr != nil {
			s.logger.Error("failed to compensate rejected transfer", "reference", txn.Reference, "error", failErr)
			return nil, failErr
		}
		return nil, gatewayError("initiate transfer", err)
	}

	s.logger.Info("transfer initiated", "reference", txn.Reference, "type", txn.Type,
		"amount", quote.Net.String(), "transfer_code", transfer.TransferCode, "gateway_status", transfer.Status)
	if transfer.TransferCode != "" {
		if err := s.repo.SetTransactionExternalReference(ctx, txn.ID, transfer.TransferCode, now); err != nil {
			s.logger.Warn("failed to store transfer code", "reference", txn.Reference, "error", err)
		} else {
			code := transfer.TransferCode
			txn.ExternalReference = &code
		}
	}
	res, err := s.applyTransfer(ctx, txn, transfer, now)
	if err != nil {
		return nil, err
	}
	return res.Transaction, nil
}

// applyTransfer resolves a withdrawal or settlement from the gateway's view of its transfer.
// Statuses other than success, failed and reversed leave it pending for the webhook.
func (s *Service) applyTransfer(ctx context.Context, txn *domain.Transaction, transfer *paystackclient.Transfer, now time.Time) (Resolution, error) {
	completion := Completion{ExternalReference: transfer.TransferCode}
	switch strings.ToLower(transfer.Status) {
	case "success":
		return s.CompleteTransaction(ctx, txn.Reference, completion, now)
	case "failed", "reversed", "rejected":
		reason := transfer.Reason
		if reason == "" || reason == txn.Description {
			reason = "transfer " + strings.ToLower(transfer.Status)
		}
		return s.FailTransaction(ctx, txn.Reference, reason, now)
	default:
		return Resolution{Transaction: txn}, nil
	}
}

func (s *Service) usableBankAccount(ctx context.Context, walletID, accountID uuid.UUID) (*domain.BankAccount, error) {
	account, err := s.repo.FindBankAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.WalletID != walletID || !account.IsActive {
		return nil, domain.ErrBankAccountNotFound
	}
	if !account.Usable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrBankAccountUnverified, account.AccountNumber)
	}
	return account, nil
}
