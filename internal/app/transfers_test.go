package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

func TestTransfer_WritesLinkedSuccessRecords(t *testing.T) {
	env := newTestEnv(t, false)
	from := env.wallet(t, "1000")
	to := env.wallet(t, "50")

	result, err := env.svc.Transfer(context.Background(), TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: ngn("400"), Description: "rent"}, testNow)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if got := env.balance(t, from.ID); got != "600.00 NGN" {
		t.Fatalf("expected source 600.00 NGN, got %s", got)
	}
	if got := env.balance(t, to.ID); got != "450.00 NGN" {
		t.Fatalf("expected destination 450.00 NGN, got %s", got)
	}

	out, in := result.Outgoing, result.Incoming
	if out.Status != domain.TransactionStatusSuccess || in.Status != domain.TransactionStatusSuccess {
		t.Fatalf("both records must be success, got %s / %s", out.Status, in.Status)
	}
	if out.RecipientWalletID == nil || *out.RecipientWalletID != to.ID {
		t.Fatalf("outgoing record must carry the recipient wallet: %+v", out)
	}
	if in.WalletID != to.ID || in.RelatedTransactionID == nil || *in.RelatedTransactionID != out.ID {
		t.Fatalf("incoming record must link to the outgoing one: %+v", in)
	}
	env.transaction(t, out.Reference)
	env.transaction(t, in.Reference)
}

func TestTransfer_Rejections(t *testing.T) {
	env := newTestEnv(t, false)
	from := env.wallet(t, "100")
	to := env.wallet(t, "0")
	locked := env.wallet(t, "100")
	locked.IsLocked = true
	env.repo.PutWallet(locked)

	tests := []struct {
		name string
		req  TransferRequest
		want error
	}{
		{name: "same wallet", req: TransferRequest{FromWalletID: from.ID, ToWalletID: from.ID, Amount: ngn("1")}, want: domain.ErrInvalidPayload},
		{name: "insufficient funds", req: TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: ngn("100.01")}, want: domain.ErrInsufficientFunds},
		{name: "locked source", req: TransferRequest{FromWalletID: locked.ID, ToWalletID: to.ID, Amount: ngn("1")}, want: domain.ErrWalletLocked},
		{name: "negative amount", req: TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: ngn("-5")}, want: domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.Transfer(context.Background(), tt.req, testNow); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if env.balance(t, from.ID) != "100.00 NGN" || env.balance(t, to.ID) != "0.00 NGN" {
		t.Fatalf("rejected transfers moved money")
	}
}

func TestTransfer_OppositeDirectionsConcurrently(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.wallet(t, "1000")
	b := env.wallet(t, "1000")

	if errs := transferStorm(t, env.svc, a.ID, b.ID, 50, "10", "7"); len(errs) != 0 {
		t.Fatalf("expected every transfer to succeed, got %d errors, first: %v", len(errs), errs[0])
	}
	// 50 × 10 out and 50 × 7 in for a, the reverse for b.
	if got := env.balance(t, a.ID); got != "850.00 NGN" {
		t.Fatalf("expected a at 850.00 NGN, got %s", got)
	}
	if got := env.balance(t, b.ID); got != "1150.00 NGN" {
		t.Fatalf("expected b at 1150.00 NGN, got %s", got)
	}
	history, err := env.svc.ListTransactions(context.Background(), a.ID, domain.TransactionListOptions{Limit: 100})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(history) != 100 {
		t.Fatalf("expected 100 records on a (50 out, 50 in), got %d", len(history))
	}
}

func TestRefund_CumulativeCapAndReversal(t *testing.T) {
	env := newTestEnv(t, false)
	from := env.wallet(t, "1000")
	to := env.wallet(t, "0")
	ctx := context.Background()

	result, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: ngn("600")}, testNow)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	original := result.Outgoing

	partial := ngn("200")
	refund, err := env.svc.Refund(ctx, RefundRequest{TransactionID: original.ID, Amount: &partial, Reason: "partial"}, testNow)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if refund.Type != domain.TransactionTypeRefund || refund.RelatedTransactionID == nil || *refund.RelatedTransactionID != original.ID {
		t.Fatalf("refund must link to the original: %+v", refund)
	}
	if env.balance(t, from.ID) != "600.00 NGN" || env.balance(t, to.ID) != "400.00 NGN" {
		t.Fatalf("unexpected balances after partial refund: %s / %s", env.balance(t, from.ID), env.balance(t, to.ID))
	}
	if got := env.transaction(t, original.Reference).Status; got != domain.TransactionStatusSuccess {
		t.Fatalf("partially refunded original must stay success, got %s", got)
	}

	tooMuch := ngn("400.01")
	if _, err := env.svc.Refund(ctx, RefundRequest{TransactionID: original.ID, Amount: &tooMuch}, testNow); !errors.Is(err, domain.ErrRefundNotAllowed) {
		t.Fatalf("expected ErrRefundNotAllowed past the cap, got %v", err)
	}

	rest, err := env.svc.Refund(ctx, RefundRequest{TransactionID: original.ID}, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("Refund() of the remainder error = %v", err)
	}
	if rest.Amount.String() != "400.00 NGN" {
		t.Fatalf("expected the 400.00 remainder, got %s", rest.Amount)
	}
	if got := env.transaction(t, original.Reference).Status; got != domain.TransactionStatusReversed {
		t.Fatalf("fully refunded original must be reversed, got %s", got)
	}
	if env.balance(t, from.ID) != "1000.00 NGN" || env.balance(t, to.ID) != "0.00 NGN" {
		t.Fatalf("unexpected balances after full refund: %s / %s", env.balance(t, from.ID), env.balance(t, to.ID))
	}

	if _, err := env.svc.Refund(ctx, RefundRequest{TransactionID: original.ID}, testNow); !errors.Is(err, domain.ErrRefundNotAllowed) {
		t.Fatalf("expected ErrRefundNotAllowed once reversed, got %v", err)
	}
}

func TestRefund_RejectsNonRefundableTransactions(t *testing.T) {
	env := newTestEnv(t, false)
	from := env.wallet(t, "1000")
	to := env.wallet(t, "0")
	ctx := context.Background()

	result, err := env.svc.Transfer(ctx, TransferRequest{FromWalletID: from.ID, ToWalletID: to.ID, Amount: ngn("100")}, testNow)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if _, err := env.svc.Refund(ctx, RefundRequest{TransactionID: result.Incoming.ID}, testNow); !errors.Is(err, domain.ErrRefundNotAllowed) {
		t.Fatalf("incoming transfer leg must not be refundable, got %v", err)
	}

	account := env.bankAccount(t, from.ID)
	pending, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: from.ID, BankAccountID: account.ID, Amount: ngn("100")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if _, err := env.svc.Refund(ctx, RefundRequest{TransactionID: pending.ID}, testNow); !errors.Is(err, domain.ErrRefundNotAllowed) {
		t.Fatalf("pending withdrawal must not be refundable, got %v", err)
	}
}

func TestReverseTransfer(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "1000")
	account := env.bankAccount(t, w.ID)
	ctx := context.Background()

	pending, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("300")}, testNow)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	res, err := env.svc.ReverseTransfer(ctx, pending.Reference, "", testNow)
	if err != nil || !res.Applied || res.Transaction.Status != domain.TransactionStatusFailed {
		t.Fatalf("reversing a pending withdrawal must fail it, got %+v, %v", res, err)
	}
	if got := env.balance(t, w.ID); got != "1000.00 NGN" {
		t.Fatalf("expected 1000.00 NGN after reversal, got %s", got)
	}

	env.gateway.initiateTransfer = func(req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
		return &paystackclient.Transfer{TransferCode: "TRF_ok", Reference: req.Reference, Status: "success"}, nil
	}
	done, err := env.svc.Withdraw(ctx, WithdrawalRequest{WalletID: w.ID, BankAccountID: account.ID, Amount: ngn("300")}, testNow)
	if err != nil || done.Status != domain.TransactionStatusSuccess {
		t.Fatalf("Withdraw() = %+v, %v", done, err)
	}
	res, err = env.svc.ReverseTransfer(ctx, done.Reference, "bank returned funds", testNow)
	if err != nil || !res.Applied || res.Transaction.Status != domain.TransactionStatusReversed {
		t.Fatalf("reversing a successful withdrawal must refund it, got %+v, %v", res, err)
	}
	if got := env.balance(t, w.ID); got != "1000.00 NGN" {
		t.Fatalf("expected 1000.00 NGN after refund, got %s", got)
	}

	again, err := env.svc.ReverseTransfer(ctx, done.Reference, "duplicate", testNow)
	if err != nil || again.Applied {
		t.Fatalf("a second reversal must be a no-op, got %+v, %v", again, err)
	}
}
