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

func TestInitializeDeposit_RecordsPendingDepositWithMetadata(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.wallet(t, "0")

	var sent paystackclient.InitializeChargeRequest
	env.gateway.initializeCharge = func(req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error) {
		sent = req
		return &paystackclient.InitializeChargeResponse{AuthorizationURL: "https://checkout/x", AccessCode: "ac_x", Reference: req.Reference}, nil
	}

	started, err := env.svc.InitializeDeposit(context.Background(), DepositRequest{WalletID: w.ID, Amount: ngn("10000"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}
	if started.AuthorizationURL != "https://checkout/x" || started.AccessCode != "ac_x" {
		t.Fatalf("unexpected checkout details: %+v", started)
	}
	if sent.Amount != 1000000 || sent.Reference != started.Reference {
		t.Fatalf("expected 1000000 kobo for %s, got %d for %s", started.Reference, sent.Amount, sent.Reference)
	}
	if sent.Metadata["internal_reference"] != started.Reference || sent.Metadata["wallet_id"] != w.ID.String() {
		t.Fatalf("metadata missing references: %+v", sent.Metadata)
	}

	txn := env.transaction(t, started.Reference)
	if txn.Status != domain.TransactionStatusPending || txn.Fee.String() != "250.00 NGN" {
		t.Fatalf("expected pending deposit with 250.00 fee, got %s / %s", txn.Status, txn.Fee)
	}
	if got := env.balance(t, w.ID); got != "0.00 NGN" {
		t.Fatalf("pending deposit must not move the balance, got %s", got)
	}
}

func TestInitializeDeposit_GatewayOutageFailsDeposit(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "0")
	env.gateway.initializeCharge = func(req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error) {
		return nil, paystackclient.ErrUnavailable
	}

	_, err := env.svc.InitializeDeposit(context.Background(), DepositRequest{WalletID: w.ID, Amount: ngn("500"), Email: "ada@example.com"}, testNow)
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	txns, _ := env.svc.ListTransactions(context.Background(), w.ID, domain.TransactionListOptions{})
	if len(txns) != 1 || txns[0].Status != domain.TransactionStatusFailed {
		t.Fatalf("expected one failed deposit, got %+v", txns)
	}
}

func TestCompleteTransaction_CreditsDepositOnce(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.wallet(t, "100")
	ctx := context.Background()

	started, err := env.svc.InitializeDeposit(ctx, DepositRequest{WalletID: w.ID, Amount: ngn("10000"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}

	amount := ngn("10000")
	completion := Completion{Amount: &amount, Channel: "card", ExternalReference: "4099260516"}
	first, err := env.svc.CompleteTransaction(ctx, started.Reference, completion, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	second, err := env.svc.CompleteTransaction(ctx, started.Reference, completion, testNow.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second CompleteTransaction() error = %v", err)
	}

	if !first.Applied || second.Applied {
		t.Fatalf("expected only the first resolution to apply, got %v then %v", first.Applied, second.Applied)
	}
	if got := env.balance(t, w.ID); got != "9850.00 NGN" {
		t.Fatalf("expected 100 + (10000 - 250) = 9850.00 NGN, got %s", got)
	}
	txn := env.transaction(t, started.Reference)
	if txn.Status != domain.TransactionStatusSuccess || txn.Channel != "card" || txn.CompletedAt == nil {
		t.Fatalf("unexpected stored deposit: %+v", txn)
	}

	failed, err := env.svc.FailTransaction(ctx, started.Reference, "late failure", testNow.Add(3*time.Minute))
	if err != nil || failed.Applied {
		t.Fatalf("failing a completed deposit must be a no-op, got %+v, %v", failed, err)
	}
	if got := env.balance(t, w.ID); got != "9850.00 NGN" {
		t.Fatalf("balance changed after ignored failure: %s", got)
	}

	keys := env.publisher.keys()
	if len(keys) != 2 || keys[0] != domain.RoutingKeyTransactionSucceeded || keys[1] != domain.RoutingKeyBalanceCredited {
		t.Fatalf("unexpected published events: %v", keys)
	}
}

func TestCompleteTransaction_AmountMismatchFailsDeposit(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "0")
	ctx := context.Background()

	started, err := env.svc.InitializeDeposit(ctx, DepositRequest{WalletID: w.ID, Amount: ngn("5000"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}
	paid := ngn("50")
	res, err := env.svc.CompleteTransaction(ctx, started.Reference, Completion{Amount: &paid}, testNow)
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	if res.Transaction.Status != domain.TransactionStatusFailed || res.Transaction.FailureReason == nil {
		t.Fatalf("expected failed deposit with reason, got %+v", res.Transaction)
	}
	if got := env.balance(t, w.ID); got != "0.00 NGN" {
		t.Fatalf("mismatched deposit must not credit, got %s", got)
	}
}

func TestVerifyDeposit_AbandonedChargeStaysPending(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "0")
	ctx := context.Background()

	started, err := env.svc.InitializeDeposit(ctx, DepositRequest{WalletID: w.ID, Amount: ngn("1000"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("InitializeDeposit() error = %v", err)
	}
	env.gateway.verifyCharge = func(reference string) (*paystackclient.Charge, error) {
		return &paystackclient.Charge{Reference: reference, Status: "abandoned", Amount: 100000, Currency: "NGN"}, nil
	}
	res, err := env.svc.VerifyDeposit(ctx, started.Reference, testNow)
	if err != nil {
		t.Fatalf("VerifyDeposit() error = %v", err)
	}
	if res.Applied || res.Transaction.Status != domain.TransactionStatusPending {
		t.Fatalf("expected untouched pending deposit, got %+v", res)
	}

	env.gateway.verifyCharge = func(reference string) (*paystackclient.Charge, error) {
		return &paystackclient.Charge{
			ID: 7, Reference: reference, Status: "success", Amount: 100000, Currency: "NGN", Channel: "card",
			Authorization: &paystackclient.Authorization{
				AuthorizationCode: "AUTH_abc", Bin: "408408", Last4: "4081", ExpMonth: "12", ExpYear: "2030",
				Brand: "visa", Reusable: true, Signature: "SIG_abc",
			},
		}, nil
	}
	res, err = env.svc.VerifyDeposit(ctx, started.Reference, testNow)
	if err != nil || !res.Applied {
		t.Fatalf("expected verified deposit to apply, got %+v, %v", res, err)
	}
	if got := env.balance(t, w.ID); got != "1000.00 NGN" {
		t.Fatalf("expected 1000.00 NGN, got %s", got)
	}

	cards, err := env.svc.ListCards(ctx, w.ID)
	if err != nil || len(cards) != 1 {
		t.Fatalf("expected one saved card, got %d (%v)", len(cards), err)
	}
	if !cards[0].IsDefault || cards[0].MaskedPAN() != "408408******4081" || cards[0].ExpYear != 2030 {
		t.Fatalf("unexpected saved card: %+v", cards[0])
	}
}

func TestChargeCard(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "0")
	ctx := context.Background()

	card := &domain.Card{
		ID: uuid.New(), WalletID: w.ID, Last4: "4081", Bin: "408408", ExpMonth: 12, ExpYear: 2030,
		AuthorizationCode: "AUTH_abc", Signature: "SIG_abc", Reusable: true, IsActive: true, CreatedAt: testNow,
	}
	if err := env.repo.UpsertCard(ctx, card); err != nil {
		t.Fatalf("UpsertCard() error = %v", err)
	}

	res, err := env.svc.ChargeCard(ctx, ChargeCardRequest{WalletID: w.ID, CardID: card.ID, Amount: ngn("2500"), Email: "ada@example.com"}, testNow)
	if err != nil || !res.Applied {
		t.Fatalf("ChargeCard() = %+v, %v", res, err)
	}
	if got := env.balance(t, w.ID); got != "2500.00 NGN" {
		t.Fatalf("expected 2500.00 NGN, got %s", got)
	}
	if res.Transaction.CardID == nil || *res.Transaction.CardID != card.ID {
		t.Fatalf("deposit not linked to card: %+v", res.Transaction)
	}

	other := env.wallet(t, "0")
	if _, err := env.svc.ChargeCard(ctx, ChargeCardRequest{WalletID: other.ID, CardID: card.ID, Amount: ngn("10"), Email: "x@example.com"}, testNow); !errors.Is(err, domain.ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound for another wallet's card, got %v", err)
	}

	expired := time.Date(2031, time.January, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.svc.ChargeCard(ctx, ChargeCardRequest{WalletID: w.ID, CardID: card.ID, Amount: ngn("10"), Email: "ada@example.com"}, expired); !errors.Is(err, domain.ErrCardExpired) {
		t.Fatalf("expected ErrCardExpired, got %v", err)
	}
}

func TestChargeCard_GatewayOutageLeavesDepositPending(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.wallet(t, "0")
	ctx := context.Background()

	card := &domain.Card{
		ID: uuid.New(), WalletID: w.ID, ExpMonth: 12, ExpYear: 2030,
		AuthorizationCode: "AUTH_abc", Reusable: true, IsActive: true, CreatedAt: testNow,
	}
	if err := env.repo.UpsertCard(ctx, card); err != nil {
		t.Fatalf("UpsertCard() error = %v", err)
	}
	env.gateway.chargeAuthorization = func(req paystackclient.ChargeAuthorizationRequest) (*paystackclient.Charge, error) {
		return nil, paystackclient.ErrUnavailable
	}

	res, err := env.svc.ChargeCard(ctx, ChargeCardRequest{WalletID: w.ID, CardID: card.ID, Amount: ngn("100"), Email: "ada@example.com"}, testNow)
	if err != nil {
		t.Fatalf("ChargeCard() error = %v", err)
	}
	if res.Applied || res.Transaction.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending deposit, got %+v", res)
	}
}
