package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/webhook"
)

// PaystackWebhookHandler ingests a gateway event. Events that were stored are answered with
// 200 whatever their processing outcome; failed ones are retried by the sweep.
func (h *Handlers) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.webhooks.Ingest(r.Context(), payload, r.Header.Get(webhook.SignatureHeader), h.clock())
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("webhook rejected", "reason", "invalid_signature", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	case errors.Is(err, domain.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("webhook ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
