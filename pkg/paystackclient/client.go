/**
 * @description
 * This package provides a client for the Paystack API. It is the only component in the
 * wallet service that performs network I/O against the payment provider: charge
 * initialization and verification, authorization charges, customers and their
 * dedicated virtual accounts, transfer recipients, transfers, account resolution and
 * the bank list.
 *
 * @notes
 * - Every Paystack response is wrapped in a {status, message, data} envelope.
 * - Amounts are integers in the smallest currency unit (kobo).
 * - Transport failures, timeouts and 5xx responses wrap ErrUnavailable so callers can
 *   leave work pending and retry; 404 wraps ErrNotFound.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production Paystack API.
const DefaultBaseURL = "https://api.paystack.co"

var (
	// ErrUnavailable marks timeouts, transport errors and 5xx responses.
	ErrUnavailable = errors.New("paystack unavailable")
	// ErrNotFound marks a 404 for the requested resource.
	ErrNotFound = errors.New("paystack resource not found")
)

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a new Paystack API client.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Logger: slog.Default(),
	}
}

// APIError is a non-2xx response from Paystack.
type APIError struct {
	StatusCode int    `json:"-"`
	Operation  string `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Unwrap classifies the error for errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeChargeRequest starts a hosted card payment.
type InitializeChargeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InitializeChargeResponse carries the checkout details for a new charge.
type InitializeChargeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Authorization is the reusable card token returned with a successful charge.
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Bin               string `json:"bin"`
	Last4             string `json:"last4"`
	ExpMonth          string `json:"exp_month"`
	ExpYear           string `json:"exp_year"`
	Channel           string `json:"channel"`
	CardType          string `json:"card_type"`
	Bank              string `json:"bank"`
	CountryCode       string `json:"country_code"`
	Brand             string `json:"brand"`
	Reusable          bool   `json:"reusable"`
	Signature         string `json:"signature"`
	// ReceiverBankAccountNumber is the dedicated account a bank transfer was paid into.
	ReceiverBankAccountNumber string `json:"receiver_bank_account_number"`
	SenderName                string `json:"sender_name"`
	SenderBank                string `json:"sender_bank"`
}

// Customer is the payer attached to a charge.
type Customer struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

// Charge is the verification view of a charge.
type Charge struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Channel         string          `json:"channel"`
	GatewayResponse string          `json:"gateway_response"`
	Fees            int64           `json:"fees"`
	PaidAt          *time.Time      `json:"paid_at"`
	Metadata        json.RawMessage `json:"metadata"`
	Authorization   *Authorization  `json:"authorization"`
	Customer        *Customer       `json:"customer"`
}

// MetadataValue returns a string metadata field. Paystack sends metadata as an object,
// a JSON-encoded string, or an empty string when none was attached.
func (c *Charge) MetadataValue(key string) string {
	return MetadataValue(c.Metadata, key)
}

// MetadataValue extracts key from a raw metadata value.
func MetadataValue(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		var encoded string
		if json.Unmarshal(raw, &encoded) != nil || encoded == "" {
			return ""
		}
		if json.Unmarshal([]byte(encoded), &fields) != nil {
			return ""
		}
	}
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// CreateCustomerRequest registers the payer behind a wallet.
type CreateCustomerRequest struct {
	Email     string         `json:"email"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CreateDedicatedAccountRequest assigns a virtual bank account to a customer.
type CreateDedicatedAccountRequest struct {
	Customer      string `json:"customer"`
	PreferredBank string `json:"preferred_bank,omitempty"`
}

// DedicatedAccount is a virtual account whose inbound transfers arrive as dedicated_nuban charges.
type DedicatedAccount struct {
	ID            int64  `json:"id"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Active        bool   `json:"active"`
	Currency      string `json:"currency"`
	Bank          struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"bank"`
	Customer *Customer `json:"customer"`
}

// ChargeAuthorizationRequest charges a saved authorization.
type ChargeAuthorizationRequest struct {
	AuthorizationCode string         `json:"authorization_code"`
	Email             string         `json:"email"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency,omitempty"`
	Reference         string         `json:"reference"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// CreateRecipientRequest registers a bank account as a transfer destination.
type CreateRecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency,omitempty"`
}

// Recipient is a registered transfer destination.
type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Name          string `json:"name"`
	Active        bool   `json:"active"`
}

// InitiateTransferRequest pays a recipient from the Paystack balance.
type InitiateTransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference"`
}

// Transfer is the state of an outbound transfer.
type Transfer struct {
	ID           int64  `json:"id"`
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reason       string `json:"reason"`
}

// ResolvedAccount is the account holder behind an account number.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankID        int64  `json:"bank_id"`
}

// Bank is one entry in the bank list.
type Bank struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Code     string `json:"code"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Active   bool   `json:"active"`
}

// InitializeCharge creates a hosted checkout for a card payment.
func (c *Client) InitializeCharge(ctx context.Context, req InitializeChargeRequest) (*InitializeChargeResponse, error) {
	var out InitializeChargeResponse
	if err := c.do(ctx, "initialize_charge", http.MethodPost, "/transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyCharge fetches the current state of a charge by reference.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*Charge, error) {
	var out Charge
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify_charge", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChargeAuthorization charges a previously saved card authorization.
func (c *Client) ChargeAuthorization(ctx context.Context, req ChargeAuthorizationRequest) (*Charge, error) {
	var out Charge
	if err := c.do(ctx, "charge_authorization", http.MethodPost, "/transaction/charge_authorization", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCustomer creates a customer. Paystack returns the existing customer for a known email.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, "create_customer", http.MethodPost, "/customer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDedicatedAccount provisions a dedicated virtual account for a customer code.
func (c *Client) CreateDedicatedAccount(ctx context.Context, req CreateDedicatedAccountRequest) (*DedicatedAccount, error) {
	var out DedicatedAccount
	if err := c.do(ctx, "create_dedicated_account", http.MethodPost, "/dedicated_account", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransferRecipient registers a NUBAN bank account as a transfer recipient.
func (c *Client) CreateTransferRecipient(ctx context.Context, req CreateRecipientRequest) (*Recipient, error) {
	if req.Type == "" {
		req.Type = "nuban"
	}
	var out Recipient
	if err := c.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateTransfer sends money from the Paystack balance to a recipient.
func (c *Client) InitiateTransfer(ctx context.Context, req InitiateTransferRequest) (*Transfer, error) {
	if req.Source == "" {
		req.Source = "balance"
	}
	var out Transfer
	if err := c.do(ctx, "initiate_transfer", http.MethodPost, "/transfer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransfer fetches a transfer by its reference.
func (c *Client) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	var out Transfer
	path := "/transfer/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify_transfer", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveAccount looks up the account holder name for an account number.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	var out ResolvedAccount
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)
	if err := c.do(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBanks returns the banks available for a country.
func (c *Client) ListBanks(ctx context.Context, country string) ([]Bank, error) {
	var out []Bank
	path := "/bank"
	if country != "" {
		path += "?country=" + url.QueryEscape(country)
	}
	if err := c.do(ctx, "list_banks", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to execute %s request: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s response: %v", ErrUnavailable, op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Operation: op, Message: env.Message}
		if decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger().Warn("paystack non-2xx response",
			slog.String("component", "paystack_client"),
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, decodeErr)
	}
	if !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Operation: op, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", op, err)
	}
	return nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
