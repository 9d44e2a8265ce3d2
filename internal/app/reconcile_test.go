package app

import (
	"context"
	"testing"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

func TestReconcilePending(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "10000")
	account := env.bankAccount(t, w.ID)
	ctx := context.Background()

	paid, err := env.svc.InitializeDeposit(ctx, DepositRequest{WalletID: w.ID, Amount: ngn("500"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}
	abandoned, err := env.svc.InitializeDeposit(ctx, DepositRequest{WalletID: w.ID, Amount: ngn("700"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}
	lost, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("1000")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	unreachable, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("2000")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	fresh, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("100")}, testNow.Add(50*time.Minute))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	env.gateway.verifyCharge = func(reference string) (*paystackclient.Charge, error) {
		switch reference {
		case paid.Reference:
			return &paystackclient.Charge{ID: 1, Reference: reference, Status: "success", Amount: 50000, Currency: "NGN"}, nil
		default:
			return &paystackclient.Charge{Reference: reference, Status: "abandoned"}, nil
		}
	}
	env.gateway.verifyTransfer = func(reference string) (*paystackclient.Transfer, error) {
		if reference == unreachable.Reference {
			return nil, paystackclient.ErrUnavailable
		}
		return nil, &paystackclient.APIError{StatusCode: 404, Operation: "verify_transfer", Message: "Transfer not found"}
	}

	summary, err := env.svc.ReconcilePending(ctx, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReconcilePending() error = %v", err)
	}
	if summary.Checked != 4 || summary.Completed != 1 || summary.Failed != 1 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	for ref, want := range map[string]domain.TransactionStatus{
		paid.Reference:        domain.TransactionStatusSuccess,
		abandoned.Reference:   domain.TransactionStatusPending,
		lost.Reference:        domain.TransactionStatusFailed,
		unreachable.Reference: domain.TransactionStatusPending,
		fresh.Reference:       domain.TransactionStatusPending,
	} {
		if got := env.transaction(t, ref).Status; got != want {
			t.Fatalf("%s: expected %s, got %s", ref, want, got)
		}
	}
	// 10000 + 500 deposit - 2000 still reserved - 100 fresh withdrawal.
	if got := env.balance(t, w.ID); got != "8400.00 NGN" {
		t.Fatalf("expected 8400.00 NGN, got %s", got)
	}
}

func TestReconcilePending_AbandonedDepositFailsOnlyAfterExpiry(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "0")
	ctx := context.Background()

	started, err := env.svc.InitializeDeposit(ctx, DepositRequest{WalletID: w.ID, Amount: ngn("700"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}
	env.gateway.verifyCharge = func(reference string) (*paystackclient.Charge, error) {
		return &paystackclient.Charge{Reference: reference, Status: "abandoned"}, nil
	}

	if _, err := env.svc.ReconcilePending(ctx, testNow.Add(2*time.Hour)); err != nil {
		t.Fatalf("ReconcilePending() error = %v", err)
	}
	if got := env.transaction(t, started.Reference).Status; got != domain.TransactionStatusPending {
		t.Fatalf("abandoned checkout inside the expiry window: expected pending, got %s", got)
	}

	summary, err := env.svc.ReconcilePending(ctx, testNow.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("ReconcilePending() error = %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	txn := env.transaction(t, started.Reference)
	if txn.Status != domain.TransactionStatusFailed || txn.FailureReason == nil {
		t.Fatalf("expected expired deposit failed with a reason, got %+v", txn)
	}
	if got := env.balance(t, w.ID); got != "0.00 NGN" {
		t.Fatalf("expired deposit moved money: %s", got)
	}
}
