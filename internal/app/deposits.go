package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// DepositRequest starts a hosted card deposit.
type DepositRequest struct {
	WalletID    uuid.UUID
	Amount      domain.Money
	Email       string
	CallbackURL string
}

// DepositInitialization is the pending deposit plus the checkout the payer completes.
type DepositInitialization struct {
	Transaction      *domain.Transaction `json:"transaction"`
	AuthorizationURL string              `json:"authorization_url"`
	AccessCode       string              `json:"access_code"`
	Reference        string              `json:"reference"`
}

// ChargeCardRequest charges a saved card into the wallet.
type ChargeCardRequest struct {
	WalletID uuid.UUID
	CardID   uuid.UUID
	Amount   domain.Money
	Email    string
}

// InitializeDeposit records a pending deposit, then opens a hosted checkout for it.
func (s *Service) InitializeDeposit(ctx context.Context, req DepositRequest, now time.Time) (*DepositInitialization, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required for card deposits", domain.ErrInvalidPayload)
	}
	txn, err := s.createDeposit(ctx, req.WalletID, req.Amount, email, nil, now)
	if err != nil {
		return nil, err
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = s.opts.CallbackURL
	}
	resp, err := s.gateway.InitializeCharge(ctx, paystackclient.InitializeChargeRequest{
		Email:       email,
		Amount:      txn.Amount.MinorUnits(),
		Currency:    txn.Amount.Currency,
		Reference:   txn.Reference,
		CallbackURL: callback,
		Metadata:    txn.Metadata,
	})
	if err != nil {
		gwErr := gatewayError("initialize charge", err)
		if _, failErr := s.FailTransaction(ctx, txn.Reference, "charge initialization failed: "+err.Error(), now); failErr != nil {
			s.logger.Error("failed to fail deposit after gateway error", "reference", txn.Reference, "error", failErr)
		}
		return nil, gwErr
	}

	s.logger.Info("deposit initialized", "reference", txn.Reference, "wallet_id", txn.WalletID, "amount", txn.Amount.String())
	return &DepositInitialization{
		Transaction:      txn,
		AuthorizationURL: resp.AuthorizationURL,
		AccessCode:       resp.AccessCode,
		Reference:        txn.Reference,
	}, nil
}

func (s *Service) createDeposit(ctx context.Context, walletID uuid.UUID, amount domain.Money, email string, cardID *uuid.UUID, now time.Time) (*domain.Transaction, error) {
	if err := s.requireCurrency(amount); err != nil {
		return nil, err
	}
	quote, err := s.fees.Quote(domain.TransactionTypeDeposit, amount)
	if err != nil {
		return nil, err
	}
	txn := s.newTransaction(walletID, domain.TransactionTypeDeposit, quote, now)
	txn.CardID = cardID
	txn.Metadata["internal_reference"] = txn.Reference
	txn.Metadata["wallet_id"] = walletID.String()
	txn.Metadata["email"] = email
	if cardID != nil {
		txn.Channel = "card"
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		wallets, err := tx.LockWallets(ctx, walletID)
		if err != nil {
			return err
		}
		if !wallets[walletID].IsActive {
			return domain.ErrWalletInactive
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// VerifyDeposit asks the gateway for the charge behind reference and resolves the deposit.
// A charge the payer has not finished (abandoned or ongoing) stays pending.
func (s *Service) VerifyDeposit(ctx context.Context, reference string, now time.Time) (Resolution, error) {
	txn, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return Resolution{}, err
	}
	if txn.Type != domain.TransactionTypeDeposit {
		return Resolution{}, fmt.Errorf("%w: %s is not a deposit", domain.ErrTransactionNotFound, reference)
	}
	if txn.IsTerminal() {
		return Resolution{Transaction: txn}, nil
	}
	charge, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		return Resolution{}, gatewayError("verify charge", err)
	}
	return s.applyCharge(ctx, txn, charge, now)
}

// applyCharge resolves a deposit from the gateway's view of its charge. An unfinished
// checkout stays pending until the deposit expires, since the payer can still complete it.
func (s *Service) applyCharge(ctx context.Context, txn *domain.Transaction, charge *paystackclient.Charge, now time.Time) (Resolution, error) {
	status := strings.ToLower(charge.Status)
	switch {
	case status == "success":
		return s.CompleteTransaction(ctx, txn.Reference, CompletionFromCharge(charge, txn.Amount.Currency), now)
	case status == "abandoned" && now.Sub(txn.CreatedAt) >= s.opts.DepositExpiry:
		return s.FailTransaction(ctx, txn.Reference, fmt.Sprintf("checkout abandoned and expired after %s", s.opts.DepositExpiry), now)
	case status == "failed" || status == "reversed":
		reason := charge.GatewayResponse
		if reason == "" {
			reason = "charge " + status
		}
		return s.FailTransaction(ctx, txn.Reference, reason, now)
	default:
		s.logger.Info("charge not final yet", "reference", txn.Reference, "gateway_status", charge.Status)
		return Resolution{Transaction: txn}, nil
	}
}

// CompletionFromCharge converts a successful gateway charge into a Completion.
func CompletionFromCharge(charge *paystackclient.Charge, currency string) Completion {
	if charge.Currency != "" {
		currency = charge.Currency
	}
	amount := domain.FromMinorUnits(charge.Amount, currency)
	c := Completion{Amount: &amount, Channel: charge.Channel, Authorization: charge.Authorization}
	if charge.ID != 0 {
		c.ExternalReference = strconv.FormatInt(charge.ID, 10)
	}
	return c
}

// ChargeCard charges a saved card authorization. A gateway outage leaves the deposit
// pending for reconciliation instead of failing it, since the charge may have gone through.
func (s *Service) ChargeCard(ctx context.Context, req ChargeCardRequest, now time.Time) (Resolution, error) {
	card, err := s.repo.FindCardByID(ctx, req.CardID)
	if err != nil {
		return Resolution{}, err
	}
	if card.WalletID != req.WalletID || !card.IsActive {
		return Resolution{}, domain.ErrCardNotFound
	}
	if !card.Chargeable(now) {
		return Resolution{}, domain.ErrCardExpired
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return Resolution{}, fmt.Errorf("%w: email is required for card charges", domain.ErrInvalidPayload)
	}

	txn, err := s.createDeposit(ctx, req.WalletID, req.Amount, email, &card.ID, now)
	if err != nil {
		return Resolution{}, err
	}

	charge, err := s.gateway.ChargeAuthorization(ctx, paystackclient.ChargeAuthorizationRequest{
		AuthorizationCode: card.AuthorizationCode,
		Email:             email,
		Amount:            txn.Amount.MinorUnits(),
		Currency:          txn.Amount.Currency,
		Reference:         txn.Reference,
		Metadata:          txn.Metadata,
	})
	if err != nil {
		if errors.Is(err, paystackclient.ErrUnavailable) {
			s.logger.Warn("card charge outcome unknown; left pending", "reference", txn.Reference, "error", err)
			return Resolution{Transaction: txn}, nil
		}
		if _, failErr := s.FailTransaction(ctx, txn.Reference, "card charge rejected: "+err.Error(), now); failErr != nil {
			return Resolution{}, failErr
		}
		return Resolution{}, gatewayError("charge authorization", err)
	}
	return s.applyCharge(ctx, txn, charge, now)
}

// saveCard stores a reusable authorization returned with a successful charge. Failures are
// logged; the deposit itself has already been applied.
func (s *Service) saveCard(ctx context.Context, walletID uuid.UUID, auth *paystackclient.Authorization, now time.Time) {
	if auth == nil || !auth.Reusable || auth.AuthorizationCode == "" {
		return
	}
	expMonth, _ := strconv.Atoi(strings.TrimSpace(auth.ExpMonth))
	expYear, _ := strconv.Atoi(strings.TrimSpace(auth.ExpYear))

	existing, err := s.repo.ListCardsByWallet(ctx, walletID)
	if err != nil {
		s.logger.Warn("failed to list cards before save", "wallet_id", walletID, "error", err)
		return
	}
	brand := auth.Brand
	if brand == "" {
		brand = auth.CardType
	}
	// UpsertCard keeps the stored id and default flag when the signature is already saved.
	card := &domain.Card{
		ID:                uuid.New(),
		WalletID:          walletID,
		Last4:             auth.Last4,
		Bin:               auth.Bin,
		Brand:             brand,
		ExpMonth:          expMonth,
		ExpYear:           expYear,
		Bank:              auth.Bank,
		AuthorizationCode: auth.AuthorizationCode,
		Signature:         auth.Signature,
		Reusable:          true,
		IsDefault:         !hasActiveCard(existing),
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.UpsertCard(ctx, card); err != nil {
		s.logger.Warn("failed to save card", "wallet_id", walletID, "error", err)
		return
	}
	s.logger.Info("card saved", "wallet_id", walletID, "card", card.MaskedPAN())
}

func hasActiveCard(cards []domain.Card) bool {
	for _, c := range cards {
		if c.IsActive {
			return true
		}
	}
	return false
}

// ListCards returns the wallet's saved cards.
func (s *Service) ListCards(ctx context.Context, walletID uuid.UUID) ([]domain.Card, error) {
	return s.repo.ListCardsByWallet(ctx, walletID)
}
