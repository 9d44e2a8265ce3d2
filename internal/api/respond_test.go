package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("debit: %w", domain.ErrInsufficientFunds), http.StatusPaymentRequired},
		{domain.ErrWalletLocked, http.StatusLocked},
		{domain.ErrDailyLimitExceeded, http.StatusTooManyRequests},
		{domain.ErrCurrencyMismatch, http.StatusBadRequest},
		{domain.ErrInvalidSchedule, http.StatusBadRequest},
		{domain.ErrInvalidSignature, http.StatusUnauthorized},
		{domain.ErrCardNotFound, http.StatusNotFound},
		{domain.ErrScheduleConflict, http.StatusConflict},
		{domain.ErrRefundNotAllowed, http.StatusConflict},
		{fmt.Errorf("%w: verify", domain.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("resolve account: %w", &paystackclient.APIError{StatusCode: 422, Operation: "resolve account", Message: "Could not resolve"}), http.StatusBadGateway},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
