package api

import (
	"net/http"

	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
)

// ListBanksHandler returns the supported banks from the cached list.
func (h *Handlers) ListBanksHandler(w http.ResponseWriter, r *http.Request) {
	banks, err := h.service.ListBanks(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "list_banks", err)
		return
	}
	if banks == nil {
		banks = []domain.Bank{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"banks": banks})
}

type bankAccountRequest struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
}

// AddBankAccountHandler verifies and links a bank account to the caller's wallet.
func (h *Handlers) AddBankAccountHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req bankAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := h.service.AddBankAccount(r.Context(), wallet.ID, req.BankCode, req.AccountNumber, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "add_bank_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// ListBankAccountsHandler returns the caller's linked bank accounts.
func (h *Handlers) ListBankAccountsHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListBankAccounts(r.Context(), wallet.ID)
	if err != nil {
		writeServiceError(w, h.logger, "list_bank_accounts", err)
		return
	}
	if accounts == nil {
		accounts = []domain.BankAccount{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bank_accounts": accounts})
}

// SetDefaultBankAccountHandler makes the account the caller's default payout target.
func (h *Handlers) SetDefaultBankAccountHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	accountID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	account, err := h.service.SetDefaultBankAccount(r.Context(), wallet.ID, accountID, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "set_default_bank_account", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListCardsHandler returns the caller's saved cards.
func (h *Handlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	cards, err := h.service.ListCards(r.Context(), wallet.ID)
	if err != nil {
		writeServiceError(w, h.logger, "list_cards", err)
		return
	}
	if cards == nil {
		cards = []domain.Card{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cards": cards})
}

type dedicatedAccountRequest struct {
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Phone         string `json:"phone"`
	PreferredBank string `json:"preferred_bank"`
}

// ProvisionDedicatedAccountHandler opens a virtual bank account that funds the caller's wallet.
func (h *Handlers) ProvisionDedicatedAccountHandler(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.callerWallet(w, r)
	if !ok {
		return
	}
	var req dedicatedAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated, err := h.service.ProvisionDedicatedAccount(r.Context(), app.DedicatedAccountRequest{
		WalletID:      wallet.ID,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Phone:         req.Phone,
		PreferredBank: req.PreferredBank,
	}, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "provision_dedicated_account", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
