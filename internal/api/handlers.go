/**
 * @description
 * This file contains the HTTP handlers for the wallet API. Handlers parse requests,
 * resolve the caller's wallet, call the application service and write JSON responses.
 * Amounts travel as decimal strings ("1500.00") in the wallet currency.
 *
 * @dependencies
 * - internal/app: wallet operations and the transaction state machine.
 * - internal/settlement, internal/webhook: schedule management and webhook ingress.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/settlement"
	"github.com/transfa/wallet-service/internal/webhook"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxBodyBytes    = 1 << 20
)

// Handlers holds the services the HTTP handlers call.
type Handlers struct {
	service   *app.Service
	schedules *settlement.Scheduler
	webhooks  *webhook.Processor
	clock     func() time.Time
	logger    *slog.Logger
}

// NewHandlers creates the handler set. A nil clock uses time.Now.
func NewHandlers(service *app.Service, schedules *settlement.Scheduler, webhooks *webhook.Processor, clock func() time.Time, logger *slog.Logger) *Handlers {
	if clock == nil {
		clock = time.Now
	}
	return &Handlers{
		service:   service,
		schedules: schedules,
		webhooks:  webhooks,
		clock:     clock,
		logger:    logger.With("component", "api"),
	}
}

// callerWallet resolves the authenticated owner's wallet, opening it on first use.
func (h *Handlers) callerWallet(w http.ResponseWriter, r *http.Request) (*domain.Wallet, bool) {
	ownerID, ok := OwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get owner ID from context")
		return nil, false
	}
	wallet, err := h.service.GetOrCreateWallet(r.Context(), ownerID, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "resolve_wallet", err)
		return nil, false
	}
	return wallet, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) amount(w http.ResponseWriter, value string) (domain.Money, bool) {
	m, err := h.service.ParseAmount(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Money{}, false
	}
	return m, true
}

// --- wallet ---

// GetWalletHandler returns the caller's wallet.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactionsHandler returns the caller's history, newest first.
// Query: type, status, limit (default 50, max 200), offset.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeTransactions(w, r, wallet.ID, opts)
}

// ListSettlementsHandler returns the caller's settlement transactions.
func (h *Handlers) ListSettlementsHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settlementType := domain.TransactionTypeSettlement
	opts.Type = &settlementType
	h.writeTransactions(w, r, wallet.ID, opts)
}

func (h *Handlers) writeTransactions(w http.ResponseWriter, r *http.Request, walletID uuid.UUID, opts domain.TransactionListOptions) {
	txns, err := h.service.ListTransactions(r.Context(), walletID, opts)
	if err != nil {
		writeServiceError(w, h.logger, "list_transactions", err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}

func listOptions(r *http.Request) (domain.TransactionListOptions, error) {
	q := r.URL.Query()
	opts := domain.TransactionListOptions{Limit: defaultPageSize}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		t := domain.TransactionType(v)
		valid := false
		for _, known := range domain.TransactionTypes {
			if known == t {
				valid = true
				break
			}
		}
		if !valid {
			return opts, fmt.Errorf("unknown transaction type %q", v)
		}
		opts.Type = &t
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		s := domain.TransactionStatus(v)
		switch s {
		case domain.TransactionStatusPending, domain.TransactionStatusSuccess,
			domain.TransactionStatusFailed, domain.TransactionStatusReversed:
		default:
			return opts, fmt.Errorf("unknown transaction status %q", v)
		}
		opts.Status = &s
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}

// GetTransactionHandler returns one of the caller's transactions by reference.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	txn, err := h.service.GetTransaction(r.Context(), wallet.ID, chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, h.logger, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// --- deposits ---

type depositRequest struct {
	Amount      string `json:"amount"`
	Email       string `json:"email"`
	CallbackURL string `json:"callback_url"`
}

// InitializeDepositHandler opens a hosted checkout for a card deposit.
func (h *Handlers) InitializeDepositHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := h.amount(w, req.Amount)
	if !ok {
		return
	}
	out, err := h.service.InitializeDeposit(r.Context(), app.DepositRequest{
		WalletID:    wallet.ID,
		Amount:      amount,
		Email:       req.Email,
		CallbackURL: req.CallbackURL,
	}, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "initialize_deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// VerifyDepositHandler asks the gateway for the deposit's outcome.
func (h *Handlers) VerifyDepositHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")
	txn, err := h.service.GetTransaction(r.Context(), wallet.ID, reference)
	if err != nil {
		writeServiceError(w, h.logger, "verify_deposit", err)
		return
	}
	if txn.Type != domain.TransactionTypeDeposit {
		writeError(w, http.StatusNotFound, domain.ErrTransactionNotFound.Error())
		return
	}
	res, err := h.service.VerifyDeposit(r.Context(), reference, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "verify_deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Transaction)
}

type cardChargeRequest struct {
	CardID string `json:"card_id"`
	Amount string `json:"amount"`
	Email  string `json:"email"`
}

// ChargeCardHandler charges one of the caller's saved cards into the wallet.
func (h *Handlers) ChargeCardHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req cardChargeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid card_id")
		return
	}
	amount, ok := h.amount(w, req.Amount)
	if !ok {
		return
	}
	res, err := h.service.ChargeCard(r.Context(), app.ChargeCardRequest{
		WalletID: wallet.ID,
		CardID:   cardID,
		Amount:   amount,
		Email:    req.Email,
	}, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "charge_card", err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Transaction)
}

// --- payouts and transfers ---

type withdrawalRequest struct {
	BankAccountID string `json:"bank_account_id"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason"`
}

// WithdrawHandler pays part of the caller's balance out to a linked bank account.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	accountID, err := uuid.Parse(req.BankAccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bank_account_id")
		return
	}
	amount, ok := h.amount(w, req.Amount)
	if !ok {
		return
	}
	txn, err := h.service.Withdraw(r.Context(), app.WithdrawalRequest{
		WalletID:      wallet.ID,
		BankAccountID: accountID,
		Amount:        amount,
		Reason:        req.Reason,
	}, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusAccepted, txn)
}

type transferRequest struct {
	ToWalletID  string `json:"to_wallet_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// TransferHandler moves money from the caller's wallet to another wallet.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	toID, err := uuid.Parse(req.ToWalletID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to_wallet_id")
		return
	}
	amount, ok := h.amount(w, req.Amount)
	if !ok {
		return
	}
	res, err := h.service.Transfer(r.Context(), app.TransferRequest{
		FromWalletID: wallet.ID,
		ToWalletID:   toID,
		Amount:       amount,
		Description:  req.Description,
	}, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
