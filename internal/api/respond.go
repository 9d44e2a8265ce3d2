package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a service error onto its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	var apiErr *paystackclient.APIError
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrWalletLocked), errors.Is(err, domain.ErrWalletInactive):
		return http.StatusLocked
	case errors.Is(err, domain.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrBankAccountUnverified),
		errors.Is(err, domain.ErrCardExpired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrBankAccountNotFound),
		errors.Is(err, domain.ErrCardNotFound),
		errors.Is(err, domain.ErrScheduleNotFound),
		errors.Is(err, domain.ErrWebhookEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrScheduleConflict),
		errors.Is(err, domain.ErrRefundNotAllowed),
		errors.Is(err, domain.ErrAlreadyTerminal),
		errors.Is(err, domain.ErrBankAccountExists),
		errors.Is(err, domain.ErrWalletNotEmpty),
		errors.Is(err, domain.ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, paystackclient.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Server-side failures are logged
// and answered with a generic message.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "op", op, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			writeError(w, status, "Internal server error")
			return
		}
	}
	writeError(w, status, err.Error())
}
