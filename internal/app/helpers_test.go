package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/logging"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

var testNow = time.Date(2024, time.March, 14, 10, 0, 0, 0, time.UTC)

func ngn(value string) domain.Money {
	return domain.MustMoney(value, "NGN")
}

type gatewayStub struct {
	Gateway

	mu                  sync.Mutex
	initializeCharge    func(req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error)
	verifyCharge        func(reference string) (*paystackclient.Charge, error)
	chargeAuthorization func(req paystackclient.ChargeAuthorizationRequest) (*paystackclient.Charge, error)
	initiateTransfer    func(req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error)
	verifyTransfer      func(reference string) (*paystackclient.Transfer, error)
	resolveAccount      func(accountNumber, bankCode string) (*paystackclient.ResolvedAccount, error)
	listBanks           func(country string) ([]paystackclient.Bank, error)
	createCustomer      func(req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error)
	createDedicated     func(req paystackclient.CreateDedicatedAccountRequest) (*paystackclient.DedicatedAccount, error)

	transfers      []paystackclient.InitiateTransferRequest
	listBankCalls  int
	customerCalls  int
	dedicatedCalls int
}

func (g *gatewayStub) InitializeCharge(ctx context.Context, req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error) {
	if g.initializeCharge != nil {
		return g.initializeCharge(req)
	}
	return &paystackclient.InitializeChargeResponse{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *gatewayStub) VerifyCharge(ctx context.Context, reference string) (*paystackclient.Charge, error) {
	if g.verifyCharge != nil {
		return g.verifyCharge(reference)
	}
	return nil, paystackclient.ErrNotFound
}

func (g *gatewayStub) ChargeAuthorization(ctx context.Context, req paystackclient.ChargeAuthorizationRequest) (*paystackclient.Charge, error) {
	if g.chargeAuthorization != nil {
		return g.chargeAuthorization(req)
	}
	return &paystackclient.Charge{ID: 99, Status: "success", Reference: req.Reference, Amount: req.Amount, Currency: "NGN", Channel: "card"}, nil
}

func (g *gatewayStub) InitiateTransfer(ctx context.Context, req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
	g.mu.Lock()
	g.transfers = append(g.transfers, req)
	g.mu.Unlock()
	if g.initiateTransfer != nil {
		return g.initiateTransfer(req)
	}
	return &paystackclient.Transfer{TransferCode: "TRF_" + req.Reference, Reference: req.Reference, Status: "pending", Amount: req.Amount}, nil
}

func (g *gatewayStub) VerifyTransfer(ctx context.Context, reference string) (*paystackclient.Transfer, error) {
	if g.verifyTransfer != nil {
		return g.verifyTransfer(reference)
	}
	return nil, paystackclient.ErrNotFound
}

func (g *gatewayStub) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystackclient.ResolvedAccount, error) {
	if g.resolveAccount != nil {
		return g.resolveAccount(accountNumber, bankCode)
	}
	return &paystackclient.ResolvedAccount{AccountNumber: accountNumber, AccountName: "ADA OBI"}, nil
}

func (g *gatewayStub) CreateTransferRecipient(ctx context.Context, req paystackclient.CreateRecipientRequest) (*paystackclient.Recipient, error) {
	return &paystackclient.Recipient{RecipientCode: "RCP_" + req.AccountNumber, Name: req.Name, Active: true}, nil
}

func (g *gatewayStub) ListBanks(ctx context.Context, country string) ([]paystackclient.Bank, error) {
	g.mu.Lock()
	g.listBankCalls++
	g.mu.Unlock()
	if g.listBanks != nil {
		return g.listBanks(country)
	}
	return []paystackclient.Bank{{Name: "Guaranty Trust Bank", Code: "058", Country: "Nigeria", Currency: "NGN", Active: true}}, nil
}

func (g *gatewayStub) CreateCustomer(ctx context.Context, req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error) {
	g.mu.Lock()
	g.customerCalls++
	g.mu.Unlock()
	if g.createCustomer != nil {
		return g.createCustomer(req)
	}
	return &paystackclient.Customer{ID: 7, Email: req.Email, CustomerCode: "CUS_" + req.Email}, nil
}

func (g *gatewayStub) CreateDedicatedAccount(ctx context.Context, req paystackclient.CreateDedicatedAccountRequest) (*paystackclient.DedicatedAccount, error) {
	g.mu.Lock()
	g.dedicatedCalls++
	g.mu.Unlock()
	if g.createDedicated != nil {
		return g.createDedicated(req)
	}
	account := &paystackclient.DedicatedAccount{AccountNumber: "9930000737", AccountName: "ADA OBI", Active: true, Currency: "NGN"}
	account.Bank.Name = "Wema Bank"
	return account, nil
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

func testFeeRules() map[domain.TransactionType]FeeRule {
	upTo5000 := decimal.NewFromInt(5000)
	upTo50000 := decimal.NewFromInt(50000)
	tiers := []FeeTier{
		{UpTo: &upTo5000, Fee: decimal.NewFromInt(10)},
		{UpTo: &upTo50000, Fee: decimal.NewFromInt(25)},
		{Fee: decimal.NewFromInt(50)},
	}
	return map[domain.TransactionType]FeeRule{
		domain.TransactionTypeDeposit: {
			Percent:         decimal.RequireFromString("1.5"),
			Flat:            decimal.NewFromInt(100),
			Cap:             decimal.NewFromInt(2000),
			FlatWaivedBelow: decimal.NewFromInt(2500),
		},
		domain.TransactionTypeWithdrawal: {Tiers: tiers},
		domain.TransactionTypeSettlement: {Tiers: tiers},
		domain.TransactionTypeTransfer:   {},
		domain.TransactionTypeRefund:     {},
	}
}

type testEnv struct {
	svc       *Service
	repo      *store.MemoryRepository
	gateway   *gatewayStub
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, feesEnabled bool) *testEnv {
	t.Helper()
	fees, err := NewFeeCalculator(feesEnabled, testFeeRules())
	if err != nil {
		t.Fatalf("NewFeeCalculator() error = %v", err)
	}
	env := &testEnv{
		repo:      store.NewMemoryRepository(),
		gateway:   &gatewayStub{},
		publisher: &recordingPublisher{},
	}
	env.svc = NewService(env.repo, env.gateway, env.publisher, fees, nil, Options{
		Currency:                "NGN",
		MinimumBalance:          decimal.Zero,
		MaximumDailyTransaction: decimal.NewFromInt(1000000),
		Location:                time.UTC,
		ReconcileAfter:          30 * time.Minute,
	}, logging.Discard())
	return env
}

func (e *testEnv) wallet(t *testing.T, balance string) *domain.Wallet {
	t.Helper()
	w := domain.NewWallet("owner-"+uuid.NewString(), "NGN", testNow)
	w.Balance = ngn(balance)
	e.repo.PutWallet(w)
	return w
}

func (e *testEnv) bankAccount(t *testing.T, walletID uuid.UUID) *domain.BankAccount {
	t.Helper()
	account := &domain.BankAccount{
		ID:            uuid.New(),
		WalletID:      walletID,
		BankCode:      "058",
		BankName:      "Guaranty Trust Bank",
		AccountNumber: "0123456789",
		AccountName:   "ADA OBI",
		RecipientCode: "RCP_test",
		IsVerified:    true,
		IsDefault:     true,
		IsActive:      true,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	if err := e.repo.CreateBankAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateBankAccount() error = %v", err)
	}
	return account
}

func (e *testEnv) balance(t *testing.T, walletID uuid.UUID) string {
	t.Helper()
	w, err := e.repo.FindWalletByID(context.Background(), walletID)
	if err != nil {
		t.Fatalf("FindWalletByID() error = %v", err)
	}
	return w.Balance.String()
}

func (e *testEnv) transaction(t *testing.T, reference string) *domain.Transaction {
	t.Helper()
	txn, err := e.repo.FindTransactionByReference(context.Background(), reference)
	if err != nil {
		t.Fatalf("FindTransactionByReference(%s) error = %v", reference, err)
	}
	return txn
}
