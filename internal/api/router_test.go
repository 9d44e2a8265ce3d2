package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/logging"
	"github.com/transfa/wallet-service/internal/settlement"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/internal/webhook"
	"github.com/transfa/wallet-service/pkg/paystackclient"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

const (
	testJWTSecret   = "jwt-test-secret"
	testInternalKey = "internal-test-key"
	testWebhookKey  = "sk_test_webhook"
)

var testNow = time.Date(2024, time.March, 14, 10, 0, 0, 0, time.UTC)

type gatewayStub struct {
	app.Gateway
}

func (g *gatewayStub) InitializeCharge(ctx context.Context, req paystackclient.InitializeChargeRequest) (*paystackclient.InitializeChargeResponse, error) {
	return &paystackclient.InitializeChargeResponse{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *gatewayStub) InitiateTransfer(ctx context.Context, req paystackclient.InitiateTransferRequest) (*paystackclient.Transfer, error) {
	return &paystackclient.Transfer{TransferCode: "TRF_" + req.Reference, Reference: req.Reference, Status: "pending"}, nil
}

func (g *gatewayStub) CreateCustomer(ctx context.Context, req paystackclient.CreateCustomerRequest) (*paystackclient.Customer, error) {
	return &paystackclient.Customer{Email: req.Email, CustomerCode: "CUS_test"}, nil
}

func (g *gatewayStub) CreateDedicatedAccount(ctx context.Context, req paystackclient.CreateDedicatedAccountRequest) (*paystackclient.DedicatedAccount, error) {
	account := &paystackclient.DedicatedAccount{AccountNumber: "9930000737", Active: true}
	account.Bank.Name = "Wema Bank"
	return account, nil
}

type fixture struct {
	repo   *store.MemoryRepository
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rules := make(map[domain.TransactionType]app.FeeRule, len(domain.TransactionTypes))
	for _, txnType := range domain.TransactionTypes {
		rules[txnType] = app.FeeRule{}
	}
	fees, err := app.NewFeeCalculator(false, rules)
	if err != nil {
		t.Fatalf("NewFeeCalculator() error = %v", err)
	}
	logger := logging.Discard()
	publisher := &rabbitmq.EventProducerFallback{Logger: logger}
	repo := store.NewMemoryRepository()
	svc := app.NewService(repo, &gatewayStub{}, publisher, fees, nil, app.Options{
		Currency:                "NGN",
		MinimumBalance:          decimal.Zero,
		MaximumDailyTransaction: decimal.NewFromInt(1000000),
		Location:                time.UTC,
	}, logger)
	scheduler := settlement.NewScheduler(repo, svc, settlement.NewMemoryRunLocker(), settlement.Options{}, logger)
	processor := webhook.NewProcessor(repo, svc, publisher, webhook.Options{Secret: testWebhookKey}, logger)
	handlers := NewHandlers(svc, scheduler, processor, func() time.Time { return testNow }, logger)

	return &fixture{
		repo:   repo,
		router: NewRouter(handlers, RouterConfig{JWTSecret: testJWTSecret, InternalAPIKey: testInternalKey}),
	}
}

func (f *fixture) fundedWallet(t *testing.T, owner, balance string) *domain.Wallet {
	t.Helper()
	wallet := domain.NewWallet(owner, "NGN", testNow)
	wallet.Balance = domain.MustMoney(balance, "NGN")
	f.repo.PutWallet(wallet)
	return wallet
}

func (f *fixture) balance(t *testing.T, walletID uuid.UUID) string {
	t.Helper()
	w, err := f.repo.FindWalletByID(context.Background(), walletID)
	if err != nil {
		t.Fatalf("FindWalletByID() error = %v", err)
	}
	return w.Balance.Amount.StringFixed(2)
}

func token(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expires.Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

type request struct {
	method  string
	path    string
	body    string
	owner   string
	headers map[string]string
}

func (f *fixture) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(req.method, req.path, strings.NewReader(req.body))
	r.Header.Set("Content-Type", "application/json")
	if req.owner != "" {
		r.Header.Set("Authorization", "Bearer "+token(t, testJWTSecret, req.owner, time.Now().Add(time.Hour)))
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, request{method: http.MethodGet, path: "/health"}); rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
	rec := f.do(t, request{method: http.MethodGet, path: "/metrics"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer token", "Basic abc"},
		{"wrong secret", "Bearer " + token(t, "other-secret", "user-1", time.Now().Add(time.Hour))},
		{"expired", "Bearer " + token(t, testJWTSecret, "user-1", time.Now().Add(-time.Hour))},
		{"empty subject", "Bearer " + token(t, testJWTSecret, "", time.Now().Add(time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := f.do(t, request{method: http.MethodGet, path: "/wallets/me", headers: headers})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("GET /wallets/me = %d, want 401", rec.Code)
			}
		})
	}

	rec := f.do(t, request{method: http.MethodGet, path: "/wallets/me", owner: "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /wallets/me = %d: %s", rec.Code, rec.Body.String())
	}
	var wallet struct {
		OwnerID string `json:"owner_id"`
		Balance struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"balance"`
	}
	decode(t, rec, &wallet)
	if wallet.OwnerID != "user-1" || wallet.Balance.Amount != "0.00" || wallet.Balance.Currency != "NGN" {
		t.Fatalf("opened wallet = %+v", wallet)
	}
}

func TestInternalRoutesRequireKey(t *testing.T) {
	f := newFixture(t)
	wallet := f.fundedWallet(t, "user-1", "100")
	path := "/internal/wallets/" + wallet.ID.String() + "/lock"

	for _, key := range []string{"", "wrong-key"} {
		rec := f.do(t, request{method: http.MethodPost, path: path, headers: map[string]string{InternalAPIKeyHeader: key}})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("lock with key %q = %d, want 401", key, rec.Code)
		}
	}

	rec := f.do(t, request{method: http.MethodPost, path: path, headers: map[string]string{InternalAPIKeyHeader: testInternalKey}})
	if rec.Code != http.StatusOK {
		t.Fatalf("lock = %d: %s", rec.Code, rec.Body.String())
	}

	other := f.fundedWallet(t, "user-2", "0")
	rec = f.do(t, request{
		method: http.MethodPost, path: "/wallets/me/transfers", owner: "user-1",
		body: fmt.Sprintf(`{"to_wallet_id":%q,"amount":"10.00"}`, other.ID),
	})
	if rec.Code != http.StatusLocked {
		t.Fatalf("transfer from locked wallet = %d, want 423", rec.Code)
	}
}

func TestTransferHandler(t *testing.T) {
	f := newFixture(t)
	from := f.fundedWallet(t, "user-1", "1000")
	to := f.fundedWallet(t, "user-2", "0")

	rec := f.do(t, request{
		method: http.MethodPost, path: "/wallets/me/transfers", owner: "user-1",
		body: fmt.Sprintf(`{"to_wallet_id":%q,"amount":"250.50","description":"rent"}`, to.ID),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.balance(t, from.ID); got != "749.50" {
		t.Fatalf("source balance = %s, want 749.50", got)
	}
	if got := f.balance(t, to.ID); got != "250.50" {
		t.Fatalf("destination balance = %s, want 250.50", got)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"insufficient funds", fmt.Sprintf(`{"to_wallet_id":%q,"amount":"5000"}`, to.ID), http.StatusPaymentRequired},
		{"not a number", fmt.Sprintf(`{"to_wallet_id":%q,"amount":"ten"}`, to.ID), http.StatusBadRequest},
		{"too many decimals", fmt.Sprintf(`{"to_wallet_id":%q,"amount":"1.001"}`, to.ID), http.StatusBadRequest},
		{"negative", fmt.Sprintf(`{"to_wallet_id":%q,"amount":"-5"}`, to.ID), http.StatusBadRequest},
		{"unknown wallet", fmt.Sprintf(`{"to_wallet_id":%q,"amount":"5"}`, uuid.New()), http.StatusNotFound},
		{"malformed body", `{"to_wallet_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, request{method: http.MethodPost, path: "/wallets/me/transfers", owner: "user-1", body: tt.body})
			if rec.Code != tt.want {
				t.Fatalf("transfer = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if got := f.balance(t, from.ID); got != "749.50" {
		t.Fatalf("rejected transfers moved money: %s", got)
	}
}

func TestDepositThroughWebhook(t *testing.T) {
	f := newFixture(t)
	wallet := f.fundedWallet(t, "user-1", "0")

	rec := f.do(t, request{
		method: http.MethodPost, path: "/wallets/me/deposits", owner: "user-1",
		body: `{"amount":"1500.00","email":"ada@example.com"}`,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit = %d: %s", rec.Code, rec.Body.String())
	}
	var init struct {
		Reference        string `json:"reference"`
		AuthorizationURL string `json:"authorization_url"`
	}
	decode(t, rec, &init)
	if init.Reference == "" || !strings.HasSuffix(init.AuthorizationURL, init.Reference) {
		t.Fatalf("deposit response = %+v", init)
	}

	payload := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"id":1,"status":"success","reference":%q,"amount":150000,"currency":"NGN","channel":"card"}}`, init.Reference))
	rec = f.do(t, request{method: http.MethodPost, path: "/webhooks/paystack", body: string(payload),
		headers: map[string]string{webhook.SignatureHeader: "deadbeef"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged webhook = %d, want 401", rec.Code)
	}
	if got := f.balance(t, wallet.ID); got != "0.00" {
		t.Fatalf("forged webhook moved money: %s", got)
	}

	rec = f.do(t, request{method: http.MethodPost, path: "/webhooks/paystack", body: string(payload),
		headers: map[string]string{webhook.SignatureHeader: webhook.Sign(testWebhookKey, payload)}})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.balance(t, wallet.ID); got != "1500.00" {
		t.Fatalf("balance = %s, want 1500.00", got)
	}

	rec = f.do(t, request{method: http.MethodGet, path: "/wallets/me/transactions/" + init.Reference, owner: "user-1"})
	var txn struct {
		Status string `json:"status"`
	}
	decode(t, rec, &txn)
	if txn.Status != string(domain.TransactionStatusSuccess) {
		t.Fatalf("deposit status = %s, want success", txn.Status)
	}

	rec = f.do(t, request{method: http.MethodGet, path: "/wallets/me/transactions/" + init.Reference, owner: "user-2"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("another owner's transaction = %d, want 404", rec.Code)
	}

	garbage := []byte(`{"event":`)
	rec = f.do(t, request{method: http.MethodPost, path: "/webhooks/paystack", body: string(garbage),
		headers: map[string]string{webhook.SignatureHeader: webhook.Sign(testWebhookKey, garbage)}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unparsable webhook = %d, want 400", rec.Code)
	}
}

func TestListTransactionsHandler_Query(t *testing.T) {
	f := newFixture(t)
	f.fundedWallet(t, "user-1", "100")
	to := f.fundedWallet(t, "user-2", "0")
	for i := 0; i < 3; i++ {
		rec := f.do(t, request{
			method: http.MethodPost, path: "/wallets/me/transfers", owner: "user-1",
			body: fmt.Sprintf(`{"to_wallet_id":%q,"amount":"1"}`, to.ID),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("transfer = %d", rec.Code)
		}
	}

	rec := f.do(t, request{method: http.MethodGet, path: "/wallets/me/transactions?type=transfer&limit=2", owner: "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Transactions []domain.Transaction `json:"transactions"`
		Limit        int                  `json:"limit"`
	}
	decode(t, rec, &page)
	if len(page.Transactions) != 2 || page.Limit != 2 {
		t.Fatalf("page = %d transactions, limit %d", len(page.Transactions), page.Limit)
	}

	for _, query := range []string{"?type=gift", "?status=done", "?limit=0", "?offset=-1"} {
		rec := f.do(t, request{method: http.MethodGet, path: "/wallets/me/transactions" + query, owner: "user-1"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("list%s = %d, want 400", query, rec.Code)
		}
	}

	rec = f.do(t, request{method: http.MethodGet, path: "/wallets/me/settlements", owner: "user-1"})
	decode(t, rec, &page)
	if len(page.Transactions) != 0 {
		t.Fatalf("settlements = %d, want 0", len(page.Transactions))
	}
}

func TestSettlementScheduleRoutes(t *testing.T) {
	f := newFixture(t)
	wallet := f.fundedWallet(t, "user-1", "5000")
	account := &domain.BankAccount{
		ID: uuid.New(), WalletID: wallet.ID, BankCode: "058", BankName: "GTBank", AccountNumber: "0123456789",
		AccountName: "ADA LOVELACE", RecipientCode: "RCP_1", IsVerified: true, IsActive: true, CreatedAt: testNow,
	}
	if err := f.repo.CreateBankAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateBankAccount() error = %v", err)
	}

	rec := f.do(t, request{method: http.MethodPost, path: "/wallets/me/settlement-schedules", owner: "user-1",
		body: fmt.Sprintf(`{"bank_account_id":%q,"type":"weekly","time_of_day":"09:00"}`, account.ID)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("weekly schedule without a day = %d, want 400", rec.Code)
	}

	rec = f.do(t, request{method: http.MethodPost, path: "/wallets/me/settlement-schedules", owner: "user-1",
		body: fmt.Sprintf(`{"bank_account_id":%q,"type":"daily","time_of_day":"09:00","minimum_amount":"100","maximum_amount":"2000"}`, account.ID)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create schedule = %d: %s", rec.Code, rec.Body.String())
	}
	var schedule struct {
		ID       uuid.UUID  `json:"id"`
		IsActive bool       `json:"is_active"`
		NextRun  *time.Time `json:"next_run"`
	}
	decode(t, rec, &schedule)
	if !schedule.IsActive || schedule.NextRun == nil {
		t.Fatalf("created schedule = %+v", schedule)
	}

	rec = f.do(t, request{method: http.MethodPut, path: "/wallets/me/settlement-schedules/" + schedule.ID.String(), owner: "user-2",
		body: `{"type":"daily","time_of_day":"10:00"}`})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("update by another owner = %d, want 404", rec.Code)
	}

	rec = f.do(t, request{method: http.MethodPost, path: "/internal/settlement-schedules/" + schedule.ID.String() + "/run",
		headers: map[string]string{InternalAPIKeyHeader: testInternalKey}})
	if rec.Code != http.StatusOK {
		t.Fatalf("run schedule = %d: %s", rec.Code, rec.Body.String())
	}
	var run settlement.RunResult
	decode(t, rec, &run)
	if run.Outcome != settlement.RunSettled {
		t.Fatalf("run outcome = %s (%s), want settled", run.Outcome, run.Reason)
	}
	if got := f.balance(t, wallet.ID); got != "3000.00" {
		t.Fatalf("balance after settlement = %s, want 3000.00", got)
	}

	rec = f.do(t, request{method: http.MethodPut, path: "/wallets/me/settlement-schedules/" + schedule.ID.String(), owner: "user-1",
		body: `{"type":"daily","time_of_day":"10:00","is_active":false}`})
	if rec.Code != http.StatusOK {
		t.Fatalf("update schedule = %d: %s", rec.Code, rec.Body.String())
	}
	var paused struct {
		IsActive bool       `json:"is_active"`
		NextRun  *time.Time `json:"next_run"`
	}
	decode(t, rec, &paused)
	if paused.IsActive || paused.NextRun != nil {
		t.Fatalf("paused schedule = %+v", paused)
	}

	rec = f.do(t, request{method: http.MethodGet, path: "/wallets/me/settlements", owner: "user-1"})
	var page struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	decode(t, rec, &page)
	if len(page.Transactions) != 1 || page.Transactions[0].Type != domain.TransactionTypeSettlement {
		t.Fatalf("settlements = %+v", page.Transactions)
	}
}

func TestDedicatedAccountFundsWallet(t *testing.T) {
	f := newFixture(t)
	wallet := f.fundedWallet(t, "user-1", "0")

	rec := f.do(t, request{method: http.MethodPost, path: "/wallets/me/dedicated-account", owner: "user-1", body: `{}`})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("provision without email = %d, want 400", rec.Code)
	}

	rec = f.do(t, request{
		method: http.MethodPost, path: "/wallets/me/dedicated-account", owner: "user-1",
		body: `{"email":"ada@example.com","first_name":"Ada","preferred_bank":"wema-bank"}`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("provision = %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		CustomerCode  string `json:"paystack_customer_code"`
		AccountNumber string `json:"dedicated_account_number"`
		AccountBank   string `json:"dedicated_account_bank"`
	}
	decode(t, rec, &got)
	if got.CustomerCode != "CUS_test" || got.AccountNumber != "9930000737" || got.AccountBank != "Wema Bank" {
		t.Fatalf("provision response = %+v", got)
	}

	payload := []byte(`{"event":"charge.success","data":{"id":9,"status":"success","reference":"T_BANK_1","amount":250000,"currency":"NGN","channel":"dedicated_nuban","authorization":{"receiver_bank_account_number":"9930000737"}}}`)
	rec = f.do(t, request{method: http.MethodPost, path: "/webhooks/paystack", body: string(payload),
		headers: map[string]string{webhook.SignatureHeader: webhook.Sign(testWebhookKey, payload)}})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.balance(t, wallet.ID); got != "2500.00" {
		t.Fatalf("balance = %s, want 2500.00", got)
	}
}
