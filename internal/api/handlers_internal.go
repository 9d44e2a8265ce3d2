package api

import (
	"net/http"
	"strings"

	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
)

type refundRequest struct {
	Amount *string `json:"amount"`
	Reason string  `json:"reason"`
}

// RefundHandler refunds all or part of a transaction. An omitted amount refunds whatever
// has not been refunded yet.
func (h *Handlers) RefundHandler(w http.ResponseWriter, r *http.Request) {
	txnID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var amount *domain.Money
	if req.Amount != nil {
		m, ok := h.amount(w, *req.Amount)
		if !ok {
			return
		}
		amount = &m
	}
	refund, err := h.service.Refund(r.Context(), app.RefundRequest{
		TransactionID: txnID,
		Amount:        amount,
		Reason:        strings.TrimSpace(req.Reason),
	}, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "refund", err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

// LockWalletHandler blocks debits on a wallet.
func (h *Handlers) LockWalletHandler(w http.ResponseWriter, r *http.Request) {
	h.setWalletLock(w, r, true)
}

// UnlockWalletHandler allows debits on a wallet again.
func (h *Handlers) UnlockWalletHandler(w http.ResponseWriter, r *http.Request) {
	h.setWalletLock(w, r, false)
}

func (h *Handlers) setWalletLock(w http.ResponseWriter, r *http.Request, locked bool) {
	walletID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	wallet, err := h.service.SetWalletLock(r.Context(), walletID, locked, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "set_wallet_lock", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// DeactivateWalletHandler closes an empty wallet with its cards, accounts and schedules.
func (h *Handlers) DeactivateWalletHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	wallet, err := h.service.DeactivateWallet(r.Context(), walletID, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "deactivate_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ReprocessWebhookHandler re-dispatches a stored webhook event.
func (h *Handlers) ReprocessWebhookHandler(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.webhooks.Reprocess(r.Context(), eventID, h.clock())
	if err != nil {
		writeServiceError(w, h.logger, "reprocess_webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunScheduleHandler runs a settlement schedule now, whatever its type.
func (h *Handlers) RunScheduleHandler(w http.ResponseWriter, r *http.Request) {
	scheduleID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.schedules.Run(r.Context(), scheduleID, h.clock())
	if err != nil && res.Outcome == "" {
		writeServiceError(w, h.logger, "run_schedule", err)
		return
	}
	if err != nil {
		h.logger.Warn("manual settlement run failed", "schedule_id", scheduleID, "error", err)
	}
	writeJSON(w, http.StatusOK, res)
}
