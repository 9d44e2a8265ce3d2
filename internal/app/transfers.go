package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

// TransferRequest moves money between two wallets of this service.
type TransferRequest struct {
	FromWalletID uuid.UUID
	ToWalletID   uuid.UUID
	Amount       domain.Money
	Description  string
}

// TransferResult is the linked pair of records a wallet-to-wallet transfer writes.
type TransferResult struct {
	Outgoing *domain.Transaction `json:"outgoing"`
	Incoming *domain.Transaction `json:"incoming"`
}

// Transfer debits the source (amount plus fee) and credits the destination (amount) in one
// unit of work. Both records are written as success; there is no gateway leg.
func (s *Service) Transfer(ctx context.Context, req TransferRequest, now time.Time) (*TransferResult, error) {
	if req.FromWalletID == req.ToWalletID {
		return nil, fmt.Errorf("%w: cannot transfer to the same wallet", domain.ErrInvalidPayload)
	}
	if err := s.requireCurrency(req.Amount); err != nil {
		return nil, err
	}
	quote, err := s.fees.Quote(domain.TransactionTypeTransfer, req.Amount)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(req.Description)

	outgoing := s.newTransaction(req.FromWalletID, domain.TransactionTypeTransfer, quote, now)
	to := req.ToWalletID
	outgoing.RecipientWalletID = &to
	outgoing.Description = description
	outgoing.Channel = "wallet"
	outgoing.Metadata["direction"] = "outgoing"
	markTerminal(outgoing, domain.TransactionStatusSuccess, now)

	incomingQuote, err := quoteFor(FeeModeNone, quote.Net, domain.Zero(quote.Net.Currency))
	if err != nil {
		return nil, err
	}
	incoming := s.newTransaction(req.ToWalletID, domain.TransactionTypeTransfer, incomingQuote, now)
	incoming.RelatedTransactionID = &outgoing.ID
	incoming.Description = description
	incoming.Channel = "wallet"
	incoming.Metadata["direction"] = "incoming"
	incoming.Metadata["sender_wallet_id"] = req.FromWalletID.String()
	markTerminal(incoming, domain.TransactionStatusSuccess, now)

	var credit creditNotice
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		wallets, err := tx.LockWallets(ctx, req.FromWalletID, req.ToWalletID)
		if err != nil {
			return err
		}
		source, destination := wallets[req.FromWalletID], wallets[req.ToWalletID]
		if !destination.IsActive {
			return fmt.Errorf("%w: destination wallet", domain.ErrWalletInactive)
		}
		if err := s.ledger.ReserveDailyLimit(ctx, tx, source, req.Amount, now); err != nil {
			return err
		}
		if err := s.ledger.Debit(ctx, tx, source, outgoing, quote.Gross, now); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, tx, destination, incoming, quote.Net, now); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, outgoing); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, incoming); err != nil {
			return err
		}
		credit = creditNotice{walletID: destination.ID, transactionID: incoming.ID, amount: quote.Net, balance: destination.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet transfer completed", "reference", outgoing.Reference,
		"from_wallet_id", req.FromWalletID, "to_wallet_id", req.ToWalletID, "amount", req.Amount.String(), "fee", quote.Fee.String())
	s.publishResolved(ctx, outgoing, now)
	s.publishResolved(ctx, incoming, now)
	s.publishCredits(ctx, []creditNotice{credit}, now)
	return &TransferResult{Outgoing: outgoing, Incoming: incoming}, nil
}

// isOutgoingTransfer reports whether txn is the payer side of a wallet transfer.
func isOutgoingTransfer(txn *domain.Transaction) bool {
	return txn.Type == domain.TransactionTypeTransfer && txn.RecipientWalletID != nil && txn.RelatedTransactionID == nil
}
