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

// ChannelDedicatedTransfer is the charge channel of bank transfers into a dedicated account.
const ChannelDedicatedTransfer = "dedicated_nuban"

// DedicatedAccountRequest carries the customer details Paystack needs to open a virtual account.
type DedicatedAccountRequest struct {
	WalletID      uuid.UUID
	Email         string
	FirstName     string
	LastName      string
	Phone         string
	PreferredBank string
}

// ProvisionDedicatedAccount links the wallet to a Paystack customer and a dedicated virtual
// account. Each step is saved as soon as it succeeds, so a retry after a failed account
// request reuses the customer code. A wallet that already has an account is returned as is.
func (s *Service) ProvisionDedicatedAccount(ctx context.Context, req DedicatedAccountRequest, now time.Time) (*domain.Wallet, error) {
	wallet, err := s.repo.FindWalletByID(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, domain.ErrWalletInactive
	}
	if wallet.DedicatedAccountNumber != nil {
		return wallet, nil
	}

	if wallet.PaystackCustomerCode == nil {
		email := strings.TrimSpace(req.Email)
		if email == "" {
			return nil, fmt.Errorf("%w: email is required to create a customer", domain.ErrInvalidPayload)
		}
		customer, err := s.gateway.CreateCustomer(ctx, paystackclient.CreateCustomerRequest{
			Email:     email,
			FirstName: strings.TrimSpace(req.FirstName),
			LastName:  strings.TrimSpace(req.LastName),
			Phone:     strings.TrimSpace(req.Phone),
			Metadata:  map[string]any{"wallet_id": wallet.ID.String()},
		})
		if err != nil {
			return nil, gatewayError("create customer", err)
		}
		if customer.CustomerCode == "" {
			return nil, fmt.Errorf("create customer: gateway returned no customer code")
		}
		code := customer.CustomerCode
		wallet, err = s.updateWallet(ctx, wallet.ID, now, func(w *domain.Wallet) {
			w.PaystackCustomerCode = &code
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("paystack customer created", "wallet_id", wallet.ID, "customer_code", code)
	}

	account, err := s.gateway.CreateDedicatedAccount(ctx, paystackclient.CreateDedicatedAccountRequest{
		Customer:      *wallet.PaystackCustomerCode,
		PreferredBank: strings.TrimSpace(req.PreferredBank),
	})
	if err != nil {
		return nil, gatewayError("create dedicated account", err)
	}
	if account.AccountNumber == "" {
		return nil, fmt.Errorf("create dedicated account: gateway returned no account number")
	}
	number, bank := account.AccountNumber, account.Bank.Name
	wallet, err = s.updateWallet(ctx, wallet.ID, now, func(w *domain.Wallet) {
		w.DedicatedAccountNumber = &number
		if bank != "" {
			w.DedicatedAccountBank = &bank
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dedicated account created", "wallet_id", wallet.ID, "account_number", number, "bank", bank)
	return wallet, nil
}

func (s *Service) updateWallet(ctx context.Context, walletID uuid.UUID, now time.Time, mutate func(*domain.Wallet)) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		wallets, err := tx.LockWallets(ctx, walletID)
		if err != nil {
			return err
		}
		w := wallets[walletID]
		mutate(w)
		w.UpdatedAt = now
		out = w
		return tx.SaveWallet(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreditDedicatedAccount books a bank transfer into a wallet's dedicated account. The deposit
// is recorded under the gateway charge reference, so a replayed charge resolves the deposit
// it already created instead of crediting twice.
func (s *Service) CreditDedicatedAccount(ctx context.Context, charge *paystackclient.Charge, now time.Time) (Resolution, error) {
	if charge == nil || strings.TrimSpace(charge.Reference) == "" {
		return Resolution{}, fmt.Errorf("%w: dedicated account charge has no reference", domain.ErrInvalidPayload)
	}
	if charge.Authorization == nil || charge.Authorization.ReceiverBankAccountNumber == "" {
		return Resolution{}, fmt.Errorf("%w: dedicated account charge %s has no receiving account", domain.ErrInvalidPayload, charge.Reference)
	}
	accountNumber := charge.Authorization.ReceiverBankAccountNumber
	wallet, err := s.repo.FindWalletByDedicatedAccount(ctx, accountNumber)
	if err != nil {
		return Resolution{}, err
	}

	currency := charge.Currency
	if currency == "" {
		currency = wallet.Currency()
	}
	amount := domain.FromMinorUnits(charge.Amount, currency)
	if err := s.requireCurrency(amount); err != nil {
		return Resolution{}, err
	}
	quote, err := s.fees.Quote(domain.TransactionTypeDeposit, amount)
	if err != nil {
		return Resolution{}, err
	}
	txn := s.newTransaction(wallet.ID, domain.TransactionTypeDeposit, quote, now)
	txn.Reference = charge.Reference
	txn.Channel = ChannelDedicatedTransfer
	txn.Description = "Bank transfer to " + accountNumber
	txn.Metadata["wallet_id"] = wallet.ID.String()
	txn.Metadata["dedicated_account_number"] = accountNumber
	if sender := charge.Authorization.SenderName; sender != "" {
		txn.Metadata["sender_name"] = sender
	}
	if bank := charge.Authorization.SenderBank; bank != "" {
		txn.Metadata["sender_bank"] = bank
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockTransactionByReference(ctx, txn.Reference); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}
		wallets, err := tx.LockWallets(ctx, wallet.ID)
		if err != nil {
			return err
		}
		if !wallets[wallet.ID].IsActive {
			return domain.ErrWalletInactive
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return Resolution{}, err
	}
	return s.CompleteTransaction(ctx, txn.Reference, CompletionFromCharge(charge, currency), now)
}
