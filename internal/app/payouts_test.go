package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

func TestWithdraw_DebitsAmountPlusFeeAndSendsAmount(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.wallet(t, "10000")
	account := env.bankAccount(t, w.ID)

	txn, err := env.svc.Withdraw(context.Background(), WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("4000")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if txn.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending withdrawal awaiting the gateway, got %s", txn.Status)
	}
	if got := env.balance(t, w.ID); got != "5990.00 NGN" {
		t.Fatalf("expected 10000 - 4010 = 5990.00 NGN, got %s", got)
	}
	if len(env.gateway.transfers) != 1 || env.gateway.transfers[0].Amount != 400000 || env.gateway.transfers[0].Recipient != "RCP_test" {
		t.Fatalf("unexpected transfer request: %+v", env.gateway.transfers)
	}
	stored := env.transaction(t, txn.Reference)
	if stored.ExternalReference == nil || *stored.ExternalReference != "TRF_"+txn.Reference {
		t.Fatalf("transfer code not stored: %+v", stored.ExternalReference)
	}
	wallet, _ := env.repo.FindWalletByID(context.Background(), w.ID)
	if wallet.DailyTotal.String() != "4000.00 NGN" || wallet.DailyCount != 1 {
		t.Fatalf("expected 4000.00 reserved against the daily limit, got %s / %d", wallet.DailyTotal, wallet.DailyCount)
	}
}

func TestWithdraw_FailureRestoresBalanceAndDailyLimit(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.wallet(t, "10000")
	account := env.bankAccount(t, w.ID)
	ctx := context.Background()

	txn, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("4000")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	res, err := env.svc.FailTransaction(ctx, txn.Reference, "Could not process transfer", testNow.Add(time.Minute))
	if err != nil || !res.Applied {
		t.Fatalf("FailTransaction() = %+v, %v", res, err)
	}
	again, err := env.svc.FailTransaction(ctx, txn.Reference, "Could not process transfer", testNow.Add(2*time.Minute))
	if err != nil || again.Applied {
		t.Fatalf("second FailTransaction() must be a no-op, got %+v, %v", again, err)
	}

	if got := env.balance(t, w.ID); got != "10000.00 NGN" {
		t.Fatalf("expected full compensation to 10000.00 NGN, got %s", got)
	}
	wallet, _ := env.repo.FindWalletByID(ctx, w.ID)
	if !wallet.DailyTotal.IsZero() || wallet.DailyCount != 0 {
		t.Fatalf("expected the daily reservation released, got %s / %d", wallet.DailyTotal, wallet.DailyCount)
	}
	stored := env.transaction(t, txn.Reference)
	if stored.Status != domain.TransactionStatusFailed || stored.FailureReason == nil || *stored.FailureReason != "Could not process transfer" {
		t.Fatalf("unexpected stored withdrawal: %+v", stored)
	}
}

func TestWithdraw_GatewayRejectionCompensates(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "1000")
	account := env.bankAccount(t, w.ID)
	env.gateway.initiateTransfer = func(req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
		return nil, &paystackclient.APIError{StatusCode: 400, Operation: "initiate_transfer", Message: "Insufficient balance"}
	}

	_, err := env.svc.Withdraw(context.Background(), WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("500")}, testNow)
	var apiErr *paystackclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected the gateway rejection, got %v", err)
	}
	if got := env.balance(t, w.ID); got != "1000.00 NGN" {
		t.Fatalf("expected balance restored to 1000.00 NGN, got %s", got)
	}
}

func TestWithdraw_GatewayOutageLeavesPending(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "1000")
	account := env.bankAccount(t, w.ID)
	env.gateway.initiateTransfer = func(req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
		return nil, paystackclient.ErrUnavailable
	}

	txn, err := env.svc.Withdraw(context.Background(), WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("500")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if txn.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending withdrawal, got %s", txn.Status)
	}
	if got := env.balance(t, w.ID); got != "500.00 NGN" {
		t.Fatalf("funds must stay reserved while pending, got %s", got)
	}
}

func TestWithdraw_Rejections(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.wallet(t, "1000")
	account := env.bankAccount(t, w.ID)
	other := env.wallet(t, "1000")

	unverified := &domain.BankAccount{
		ID: uuid.New(), WalletID: w.ID, BankCode: "058", AccountNumber: "9999999999", IsActive: true, CreatedAt: testNow,
	}
	if err := env.repo.CreateBankAccount(context.Background(), unverified); err != nil {
		t.Fatalf("CreateBankAccount() error = %v", err)
	}

	tests := []struct {
		name string
		req  WithdrawalRequest
		want error
	}{
		{name: "insufficient funds for amount plus fee", req: WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("995")}, want: domain.ErrInsufficientFunds},
		{name: "account of another wallet", req: WithdrawalRequest{WalletID: other.ID, BankAccountID: account.ID, Amount: ngn("10")}, want: domain.ErrBankAccountNotFound},
		{name: "unverified account", req: WithdrawalRequest{WalletID: w.ID, BankAccountID: unverified.ID, Amount: ngn("10")}, want: domain.ErrBankAccountUnverified},
		{name: "foreign currency", req: WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: domain.MustMoney("10", "USD")}, want: domain.ErrCurrencyMismatch},
		{name: "zero amount", req: WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("0")}, want: domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Withdraw(context.Background(), tt.req, testNow)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if got := env.balance(t, w.ID); got != "1000.00 NGN" {
		t.Fatalf("rejected withdrawals moved the balance: %s", got)
	}
}

func TestWithdraw_DailyLimit(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "3000000")
	account := env.bankAccount(t, w.ID)
	ctx := context.Background()

	if _, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("800000")}, testNow); err != nil {
		t.Fatalf("first withdrawal failed: %v", err)
	}
	_, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("200000.01")}, testNow)
	if !errors.Is(err, domain.ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}
	if _, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("200000")}, testNow); err != nil {
		t.Fatalf("withdrawal up to the limit failed: %v", err)
	}
}

func TestCreateSettlement_DeductsFeeWithoutDailyLimit(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.wallet(t, "20000")
	account := env.bankAccount(t, w.ID)
	env.gateway.initiateTransfer = func(req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
		return &paystackclient.Transfer{TransferCode: "TRF_x", Reference: req.Reference, Status: "success"}, nil
	}

	txn, err := env.svc.CreateSettlement(context.Background(), SettlementRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("20000")}, testNow)
	if err != nil {
		t.Fatalf("CreateSettlement() error = %v", err)
	}
	if txn.Status != domain.TransactionStatusSuccess || txn.Type != domain.TransactionTypeSettlement {
		t.Fatalf("expected successful settlement, got %s %s", txn.Type, txn.Status)
	}
	if got := env.balance(t, w.ID); got != "0.00 NGN" {
		t.Fatalf("expected the whole 20000.00 debited, got %s", got)
	}
	if env.gateway.transfers[0].Amount != 1997500 {
		t.Fatalf("expected 19975.00 sent to the bank, got %d kobo", env.gateway.transfers[0].Amount)
	}
	wallet, _ := env.repo.FindWalletByID(context.Background(), w.ID)
	if wallet.DailyCount != 0 {
		t.Fatalf("settlements must not count against the daily limit, got %d", wallet.DailyCount)
	}
}
